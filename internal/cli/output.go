package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/veerananda/billgenie-sync/internal/application"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeReconcile(w io.Writer, format string, res application.ReconcileResult) error {
	if format == "json" {
		return writeJSON(w, res)
	}
	_, err := fmt.Fprintf(w, "source=%s orders=%d malformed=%d settled=%d retried=%d\n",
		res.Source, res.Orders, res.Malformed, res.Settled, res.Retried)
	return err
}

func writeKitchen(w io.Writer, format string, view application.KitchenView) error {
	if format == "json" {
		return writeJSON(w, view)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d orders, %d portions active (%d waiting, %d cooking)\n",
		view.Totals.Orders, view.Totals.Active, view.Totals.Pending, view.Totals.Cooking)
	for _, o := range view.Orders {
		fmt.Fprintf(&b, "\n%s  %s\n", ticketLabel(o), time.UnixMilli(o.CreatedAt).Format("15:04"))
		for _, g := range o.Groups {
			for _, v := range g.Variants {
				fmt.Fprintf(&b, "  %3d x %-24s %s\n", v.Quantity, g.Name, v.Status)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func ticketLabel(o application.KitchenOrder) string {
	switch {
	case o.OrderNumber != nil:
		return fmt.Sprintf("#%d", *o.OrderNumber)
	case o.TableRef != nil:
		return "table " + *o.TableRef
	case o.CustomerLabel != "":
		return o.CustomerLabel
	}
	return o.OrderID
}
