package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kart-io/trackhub/pkg/trackhub"
)

// summary is the printed outcome of one call.
type summary struct {
	MessageID string   `json:"message_id"`
	Type      string   `json:"type"`
	Dropped   bool     `json:"dropped,omitempty"`
	Delivered []string `json:"delivered"`
	Disabled  []string `json:"disabled,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	Filtered  []string `json:"filtered,omitempty"`
	Failed    []string `json:"failed,omitempty"`
}

func printResult(w io.Writer, format string, r *trackhub.Result) error {
	s := summary{
		MessageID: r.Envelope.MessageID,
		Type:      string(r.Envelope.Type),
		Dropped:   r.Report.Dropped,
		Delivered: r.Report.Delivered,
		Disabled:  r.Report.Disabled,
		Skipped:   r.Report.Skipped,
		Filtered:  r.Report.Filtered,
		Failed:    r.Report.Failed,
	}
	if s.Delivered == nil {
		s.Delivered = []string{}
	}

	if format == "json" {
		return json.NewEncoder(w).Encode(s)
	}

	fmt.Fprintf(w, "%s %s\n", s.Type, s.MessageID)
	if s.Dropped {
		fmt.Fprintln(w, "  dropped by source middleware")
		return nil
	}
	printList(w, "delivered", s.Delivered)
	printList(w, "disabled", s.Disabled)
	printList(w, "skipped", s.Skipped)
	printList(w, "filtered", s.Filtered)
	printList(w, "failed", s.Failed)
	return nil
}

func printList(w io.Writer, label string, names []string) {
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(names, ", "))
}
