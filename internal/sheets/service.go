package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"quizsnap/internal/logger"
	"quizsnap/pkg/models"
)

// DefaultWorksheet is the tab answers are appended to.
const DefaultWorksheet = "Answers"

var (
	// ErrNotConfigured is returned when no sheet URL is set.
	ErrNotConfigured = errors.New("google sheet URL is not configured")

	// ErrInvalidSheetURL is returned for URLs without a spreadsheet id.
	ErrInvalidSheetURL = errors.New("invalid Google Sheets URL format")

	spreadsheetIDRe = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)
)

// Config selects the spreadsheet and the credentials used to write to it.
type Config struct {
	SheetURL  string
	Worksheet string // Default: Answers

	// ServiceAccountKey is the path of a service account JSON key. When empty,
	// GOOGLE_APPLICATION_CREDENTIALS and then GOOGLE_CREDENTIALS are used.
	ServiceAccountKey string
}

// Enabled reports whether a sheet is configured.
func (c Config) Enabled() bool { return c.SheetURL != "" }

var headers = []interface{}{
	"Thời gian", "Tệp", "Câu số", "Mã câu", "Câu hỏi",
	"A", "B", "C", "D", "Đáp án", "Nội dung đáp án",
}

// Service handles Google Sheets operations
type Service struct {
	sheetsService *sheets.Service
	spreadsheetID string
	worksheet     string
	log           zerolog.Logger

	mu    sync.Mutex
	ready bool
}

// NewSheetsService creates a Sheets client authenticated with a service
// account.
func NewSheetsService(ctx context.Context, cfg Config) (*Service, error) {
	const op = "NewSheetsService"

	if !cfg.Enabled() {
		return nil, fmt.Errorf("%s: %w", op, ErrNotConfigured)
	}

	creds, err := credentials(cfg.ServiceAccountKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	jwt, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse credentials: %w", op, err)
	}

	return newService(ctx, cfg, option.WithHTTPClient(jwt.Client(ctx)))
}

func newService(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Service, error) {
	const op = "NewSheetsService"

	spreadsheetID, err := extractSpreadsheetID(cfg.SheetURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sheetsService, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheets service: %w", op, err)
	}

	worksheet := cfg.Worksheet
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}

	log := logger.WithComponent("sheets")
	log.Debug().Str("spreadsheet_id", spreadsheetID).Str("worksheet", worksheet).Msg("Sheets client ready")

	return &Service{
		sheetsService: sheetsService,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
		log:           log,
	}, nil
}

func credentials(keyFile string) ([]byte, error) {
	if keyFile == "" {
		keyFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if keyFile != "" {
		creds, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return creds, nil
	}
	if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		return []byte(credsJSON), nil
	}
	return nil, errors.New("no service account key: set GOOGLE_SERVICE_ACCOUNT_KEY, GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")
}

// extractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL
func extractSpreadsheetID(url string) (string, error) {
	matches := spreadsheetIDRe.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", fmt.Errorf("%w: %s", ErrInvalidSheetURL, url)
	}
	return matches[1], nil
}

// AppendResults writes one row per result below the existing rows.
func (s *Service) AppendResults(ctx context.Context, results []models.AnswerResult) error {
	const op = "AppendResults"

	if len(results) == 0 {
		return nil
	}
	if err := s.ensureSheetWithHeaders(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	values := make([][]interface{}, 0, len(results))
	for _, r := range results {
		values = append(values, resultToValues(r))
	}

	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.worksheet+"!A:K",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to append values to sheet: %w", op, err)
	}

	s.log.Info().Int("rows_written", len(values)).Str("worksheet", s.worksheet).Msg("Appended answers to Google Sheet")
	return nil
}

// resultToValues lays a result out in the header column order.
func resultToValues(r models.AnswerResult) []interface{} {
	option := func(letter string) string {
		v, _ := r.Option(letter)
		return v
	}
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.In(time.Local).Format("02/01/2006 15:04:05")
	}
	return []interface{}{
		created,          // A: Thời gian
		r.FileName,       // B: Tệp
		r.QuestionNumber, // C: Câu số
		r.QuestionID,     // D: Mã câu
		r.Question,       // E: Câu hỏi
		option("A"),      // F
		option("B"),      // G
		option("C"),      // H
		option("D"),      // I
		r.Answer,         // J: Đáp án
		r.AnswerText,     // K: Nội dung đáp án
	}
}

// ensureSheetWithHeaders creates the worksheet and its bold header row once.
func (s *Service) ensureSheetWithHeaders(ctx context.Context) error {
	const op = "ensureSheetWithHeaders"

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var sheetExists bool
	var sheetID int64
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.worksheet {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("sheet", s.worksheet).Msg("Creating new sheet")

		resp, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.worksheet}}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create sheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := s.worksheet + "!A1:K1"
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}

	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		s.log.Info().Str("sheet", s.worksheet).Msg("Adding headers to sheet")

		_, err = s.sheetsService.Spreadsheets.Values.Update(
			s.spreadsheetID,
			headerRange,
			&sheets.ValueRange{Values: [][]interface{}{headers}},
		).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to add headers: %w", op, err)
		}

		if err := s.formatHeaders(ctx, sheetID); err != nil {
			s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
		}
	}

	s.ready = true
	return nil
}

// formatHeaders makes the header row bold and sizes the columns.
func (s *Service) formatHeaders(ctx context.Context, sheetID int64) error {
	const op = "formatHeaders"

	columns := int64(len(headers))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	_, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to format headers: %w", op, err)
	}
	return nil
}
