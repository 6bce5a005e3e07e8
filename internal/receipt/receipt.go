package receipt

import (
	"bytes"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

type Line struct {
	Name      string
	Notes     string
	Quantity  int
	UnitPrice decimal.Decimal
	Total     decimal.Decimal
}

// Receipt is the invoice snapshot printed on an 80mm thermal roll.
type Receipt struct {
	LogoURL       string
	CompanyName   string
	InvoiceNumber string
	InvoiceType   string
	Date          time.Time
	BranchName    string
	BranchPhone   string
	Lines         []Line
	Total         decimal.Decimal
	Paid          decimal.Decimal
	Operator      string
	RecordName    string
	PrintedAt     time.Time
}

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"stamp": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}

var receiptTmpl = template.Must(template.New("receipt").Funcs(funcs).Parse(`<!doctype html>
<html dir="rtl">
<head>
  <meta charset="utf-8" />
  <title>{{.InvoiceNumber}}</title>
  <style>
    @page { size: 80mm auto; margin: 0; }
    body { width: 72mm; margin: 4mm; font-family: sans-serif; font-size: 12px; }
    .center { text-align: center; }
    .logo { max-width: 40mm; max-height: 20mm; }
    table { width: 100%; border-collapse: collapse; margin-top: 6px; }
    th, td { padding: 2px 0; border-bottom: 1px dashed #999; }
    td.num { text-align: left; }
    .notes { font-size: 10px; color: #555; }
    .totals td { border-bottom: none; font-weight: bold; }
    footer { margin-top: 8px; font-size: 10px; }
  </style>
</head>
<body>
  <header class="center">
    {{if .LogoURL}}<img class="logo" src="{{.LogoURL}}" alt="" />{{end}}
    <h3>{{.CompanyName}}</h3>
    <div>{{.InvoiceType}} {{.InvoiceNumber}}</div>
    <div>{{stamp .Date}}</div>
    {{if .BranchName}}<div>{{.BranchName}}{{if .BranchPhone}} - {{.BranchPhone}}{{end}}</div>{{end}}
  </header>
  <table>
    <thead><tr><th>الصنف</th><th>الكمية</th><th>السعر</th><th>الإجمالي</th></tr></thead>
    <tbody>{{range .Lines}}
      <tr>
        <td>{{.Name}}{{if .Notes}}<div class="notes">{{.Notes}}</div>{{end}}</td>
        <td class="num">{{.Quantity}}</td>
        <td class="num">{{money .UnitPrice}}</td>
        <td class="num">{{money .Total}}</td>
      </tr>{{end}}
    </tbody>
    <tfoot>
      <tr class="totals"><td colspan="3">الإجمالي</td><td class="num">{{money .Total}}</td></tr>
      <tr class="totals"><td colspan="3">المدفوع</td><td class="num">{{money .Paid}}</td></tr>
    </tfoot>
  </table>
  <footer class="center">
    <div>{{.Operator}} / {{.RecordName}}</div>
    <div>{{stamp .PrintedAt}}</div>
  </footer>
</body>
</html>
`))

// Render returns the receipt document. All fields are escaped by html/template.
func Render(r Receipt) (string, error) {
	var buf bytes.Buffer
	if err := receiptTmpl.Execute(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}
