package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/safeplay/safeplay-api/internal/activity/entity"
)

// SendActivitySummary mails the activity report to the account owner.
func (m *Mailer) SendActivitySummary(ctx context.Context, to, fullName string, r *entity.Report) error {
	var b strings.Builder
	fmt.Fprintf(&b, "## Hi %s\n\n", escape(fullName))
	fmt.Fprintf(&b, "Here is the SafePlay activity of the last %d hours (since %s UTC).\n\n",
		r.Hours, r.Since.UTC().Format("2006-01-02 15:04"))

	if r.Total == 0 {
		b.WriteString("No activity was recorded in this period.\n")
		return m.deliver(ctx, to, "Activity summary - SafePlay", b.String(), "")
	}

	fmt.Fprintf(&b, "**%d events**\n\n", r.Total)
	for _, a := range entity.Actions {
		if n := r.ByAction[a]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", a.Label(), n)
		}
	}
	b.WriteString("\n### Details\n\n")
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "- %s **%s** %s", e.CreatedAt.UTC().Format("01-02 15:04"), escape(e.GameName), e.Action.Label())
		if e.Duration != nil {
			fmt.Fprintf(&b, " (%s)", formatSeconds(*e.Duration))
		}
		b.WriteString("\n")
	}
	return m.deliver(ctx, to, "Activity summary - SafePlay", b.String(), "")
}

func formatSeconds(s int) string {
	if s < 60 {
		return fmt.Sprintf("%ds", s)
	}
	if s < 3600 {
		return fmt.Sprintf("%dm", s/60)
	}
	return fmt.Sprintf("%dh %dm", s/3600, (s%3600)/60)
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`,
	"<", "&lt;", ">", "&gt;", "#", `\#`,
)

// escape keeps user supplied text from being read as Markdown or HTML.
func escape(s string) string {
	return mdEscaper.Replace(s)
}
