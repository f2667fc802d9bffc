package sheets

import (
	"context"

	gsheets "google.golang.org/api/sheets/v4"
)

// spreadsheetAPI is the slice of the Sheets API the store needs, bound to
// one spreadsheet.
type spreadsheetAPI interface {
	GetValues(ctx context.Context, rng string) ([][]interface{}, error)
	UpdateValues(ctx context.Context, rng string, values [][]interface{}) error
	AppendValues(ctx context.Context, rng string, values [][]interface{}) error
	SheetIDs(ctx context.Context) (map[string]int64, error)
	BatchUpdate(ctx context.Context, requests []*gsheets.Request) error
}

type apiSpreadsheet struct {
	svc *gsheets.Service
	id  string
}

func (a apiSpreadsheet) GetValues(ctx context.Context, rng string) ([][]interface{}, error) {
	resp, err := a.svc.Spreadsheets.Values.Get(a.id, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (a apiSpreadsheet) UpdateValues(ctx context.Context, rng string, values [][]interface{}) error {
	_, err := a.svc.Spreadsheets.Values.Update(a.id, rng, &gsheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (a apiSpreadsheet) AppendValues(ctx context.Context, rng string, values [][]interface{}) error {
	_, err := a.svc.Spreadsheets.Values.Append(a.id, rng, &gsheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (a apiSpreadsheet) SheetIDs(ctx context.Context) (map[string]int64, error) {
	spreadsheet, err := a.svc.Spreadsheets.Get(a.id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil {
			ids[sheet.Properties.Title] = sheet.Properties.SheetId
		}
	}
	return ids, nil
}

func (a apiSpreadsheet) BatchUpdate(ctx context.Context, requests []*gsheets.Request) error {
	_, err := a.svc.Spreadsheets.BatchUpdate(a.id, &gsheets.BatchUpdateSpreadsheetRequest{Requests: requests}).
		Context(ctx).
		Do()
	return err
}
