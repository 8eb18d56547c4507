package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/order"
	"github.com/vango-go/vai-shop/pkg/shop"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	idStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	priceStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func statusStyle(s order.Status) lipgloss.Style {
	switch s {
	case order.StatusDelivered:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	case order.StatusOutForDelivery:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	case order.StatusBeingPrepared, order.StatusConfirmed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

// table renders rows in columns padded to their widest rendered cell.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(cells ...string) { t.rows = append(t.rows, cells) }

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	line := func(cells []string, style *lipgloss.Style) {
		var b strings.Builder
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
	line(t.header, &headerStyle)
	for _, row := range t.rows {
		line(row, nil)
	}
}

func renderItems(w io.Writer, items []catalog.Item, currency string) {
	t := &table{header: []string{"ID", "NAME", "CATEGORY", "PRICE", "TAGS", ""}}
	for _, it := range items {
		size := it.Size
		if size != "" {
			size = dimStyle.Render(size)
		}
		stock := ""
		if !it.InStock {
			stock = warnStyle.Render("out of stock")
		}
		t.add(
			idStyle.Render(it.ID),
			joinNonEmpty(" ", it.Brand, it.Name, size),
			joinNonEmpty(" / ", it.Category, it.Subcategory),
			priceStyle.Render(shop.FormatMoney(it.Price, currency)),
			strings.Join(it.Tags, ","),
			stock,
		)
	}
	t.render(w)
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d items", len(items))))
}

func renderRecipes(w io.Writer, res shop.RecipesResult, cat *catalog.Catalog) {
	if len(res.Names) == 0 {
		fmt.Fprintln(w, "No recipes configured.")
		return
	}
	for _, name := range res.Names {
		fmt.Fprintln(w, headerStyle.Render(name))
		for _, id := range res.Recipes[name] {
			if it, ok := cat.Get(id); ok {
				fmt.Fprintf(w, "  %s  %s\n", idStyle.Render(id), it.Name)
				continue
			}
			fmt.Fprintf(w, "  %s  %s\n", idStyle.Render(id), warnStyle.Render("not in catalog"))
		}
	}
}

func renderOrders(w io.Writer, orders []order.Order, total int) {
	t := &table{header: []string{"ORDER", "PLACED", "ITEMS", "TOTAL", "STATUS"}}
	for _, o := range orders {
		t.add(
			idStyle.Render(o.ID),
			o.CreatedAt.Local().Format(time.DateTime),
			fmt.Sprintf("%d", o.ItemCount()),
			priceStyle.Render(shop.FormatMoney(o.Total, o.Currency)),
			statusStyle(o.Status).Render(o.Status.Label()),
		)
	}
	t.render(w)
	if total > len(orders) {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("showing %d of %d orders", len(orders), total)))
	}
}

func renderTrack(w io.Writer, res shop.TrackResult) {
	o := res.Order
	fmt.Fprintf(w, "%s  %s  %s\n",
		idStyle.Render(o.ID),
		statusStyle(o.Status).Render(o.Status.Label()),
		priceStyle.Render(shop.FormatMoney(o.Total, o.Currency)),
	)
	if note := o.Status.Note(); note != "" {
		fmt.Fprintln(w, dimStyle.Render(note))
	}
	fmt.Fprintln(w)
	for _, l := range o.Lines {
		fmt.Fprintf(w, "  %d x %s  %s\n", l.Quantity, l.Name, shop.FormatMoney(l.Total(), o.Currency))
	}
	fmt.Fprintln(w)
	crossed := make(map[order.Status]bool, len(res.Crossed))
	for _, s := range res.Crossed {
		crossed[s] = true
	}
	for _, h := range o.History {
		marker := " "
		if crossed[h.Status] {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s  %s\n", marker, h.At.Local().Format(time.DateTime), statusStyle(h.Status).Render(h.Status.Label()))
	}
}
