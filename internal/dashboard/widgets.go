package dashboard

import "github.com/clarabennett2626/serialdash/internal/parser"

// AlertThreshold is the pot reading above which the virtual LED lights.
const AlertThreshold = 80

// Widgets is what the display surfaces show for one record. A nil field
// means the record did not carry the reading.
type Widgets struct {
	Pot    *float64 `json:"pot"`
	Button *bool    `json:"button"`
	Alert  *bool    `json:"alert"`
	Temp   *float64 `json:"temp"`
}

// WidgetsFor derives the widget values from rec. The button is pressed
// only when btn is exactly 1; the alert lights when pot exceeds
// AlertThreshold.
func WidgetsFor(rec parser.Record) Widgets {
	var w Widgets
	if pot, ok := rec.Pot(); ok {
		alert := pot > AlertThreshold
		w.Pot = &pot
		w.Alert = &alert
	}
	if btn, ok := rec.Button(); ok {
		w.Button = &btn
	}
	if temp, ok := rec.Temp(); ok {
		w.Temp = &temp
	}
	return w
}
