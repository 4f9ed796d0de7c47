package claims

import (
	"fmt"
	"html/template"
	"io"

	"github.com/mmeshcher/giftaid-donations/internal/model"
)

var tableTemplate = template.Must(template.New("claims").Parse(`<table class="wooga_export_giftaid wc_input_table sortable widefat">
	<label for="wooga_export_giftaid">Gift Aid Claims</label>
	<thead>
	<tr>
		<th>First Name</th>
		<th>Last Name</th>
		<th>House Name or Number</th>
		<th>Post Code</th>
		<th>Donation Date</th>
		<th>Amount</th>
	</tr>
	</thead>
	<tbody id="claims">
	{{- range .Rows}}
	<tr>
		<td><input type="text" value="{{.FirstName}}" name="first_name" /></td>
		<td><input type="text" value="{{.LastName}}" name="last_name" /></td>
		<td><input type="text" value="{{.House}}" name="house" /></td>
		<td><input type="text" value="{{.PostCode}}" name="post_code" /></td>
		<td><input type="text" value="{{.Date}}" name="date" /></td>
		<td><input type="text" value="{{.Amount}}" name="amount" /></td>
	</tr>
	{{- end}}
	</tbody>
	<tfoot>
	<tr>
		<th colspan="10">
			<a href="{{.ExportURL}}" class="button export">Export CSV</a>
		</th>
	</tr>
	</tfoot>
</table>
<p>Once the table has been exported all donations will be marked as "claimed" and will no longer appear in this table.</p>
`))

// RenderTable выводит редактируемую таблицу заявок со ссылкой на выгрузку.
func RenderTable(w io.Writer, list []model.Claim, exportURL string) error {
	rows := make([]model.Claim, 0, len(list))
	for _, c := range list {
		c.Date = FormatDate(c.Date)
		rows = append(rows, c)
	}

	err := tableTemplate.Execute(w, struct {
		Rows      []model.Claim
		ExportURL string
	}{
		Rows:      rows,
		ExportURL: exportURL,
	})
	if err != nil {
		return fmt.Errorf("render claims table: %w", err)
	}
	return nil
}
