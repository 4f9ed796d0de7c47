// Package claims формирует выгрузку заявок Gift Aid для налоговой службы.
package claims

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmeshcher/giftaid-donations/internal/model"
)

// NoClaimsMessage выводится вместо CSV, если выгружать нечего.
const NoClaimsMessage = "There are no claims to export"

// DateLayout - формат даты пожертвования в выгрузке (DD/MM/YY).
const DateLayout = "02/01/06"

var storedDateLayouts = []string{
	model.OrderDateLayout,
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// FormatDate переводит сохранённую дату в формат DD/MM/YY.
// Нераспознанная дата выводится как начало эпохи Unix.
func FormatDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range storedDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(DateLayout)
		}
	}
	return time.Unix(0, 0).UTC().Format(DateLayout)
}

// ExportRows переводит заявки в строки выгрузки.
func ExportRows(list []model.Claim) []model.ClaimsExportRow {
	rows := make([]model.ClaimsExportRow, 0, len(list))
	for _, c := range list {
		rows = append(rows, model.ClaimsExportRow{
			FirstName:    c.FirstName,
			LastName:     c.LastName,
			House:        c.House,
			Postcode:     c.PostCode,
			DonationDate: FormatDate(c.Date),
			Amount:       c.Amount,
		})
	}
	return rows
}

// FormatLine собирает строку CSV. Поле берётся в кавычки, только если содержит запятую;
// кавычки внутри поля экранируются обратной косой чертой.
// Экранирование выполняется в каждом поле, а не только в полях с запятой:
// `12" Lane` выгружается как `12\" Lane`.
func FormatLine(fields []string) string {
	out := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, `\"`)
		if strings.Contains(f, ",") {
			f = `"` + f + `"`
		}
		out[i] = f
	}
	return strings.Join(out, ",") + "\n"
}

// WriteCSV записывает заголовок и строки выгрузки, либо NoClaimsMessage при пустом списке.
func WriteCSV(w io.Writer, rows []model.ClaimsExportRow) error {
	if len(rows) == 0 {
		if _, err := io.WriteString(w, NoClaimsMessage); err != nil {
			return fmt.Errorf("write empty export: %w", err)
		}
		return nil
	}

	if _, err := io.WriteString(w, FormatLine(model.ClaimsExportHeader)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		if _, err := io.WriteString(w, FormatLine(r.Fields())); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	return nil
}
