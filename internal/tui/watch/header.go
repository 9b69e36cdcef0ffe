package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks front end health from /healthz polling.
type HealthState struct {
	Status        string
	Daemon        string
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
}

// Activity lights up on events and fades over ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(now time.Time) {
	a.dots = 5
	a.lastEvent = now
}

// Decay fades the dots based on time since the last event.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	elapsed := now.Sub(a.lastEvent)
	a.dots = 5 - int(elapsed/(2*time.Second))
	if a.dots < 0 {
		a.dots = 0
	}
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, activity Activity, now time.Time, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StatusOK.Render("HEALTHY")
	switch {
	case !health.Connected:
		statusText = theme.StatusFailed.Render("CONNECTING")
	case health.Status != "ok" && health.Status != "":
		statusText = theme.StatusFailed.Render("DEGRADED")
	}

	daemon := theme.Dim.Render("unknown")
	switch health.Daemon {
	case "ok":
		daemon = theme.StatusOK.Render("reachable")
	case "":
	default:
		daemon = theme.StatusFailed.Render(health.Daemon)
	}

	lastEvent := "never"
	if !activity.lastEvent.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", now.Sub(activity.lastEvent).Round(time.Second))
	}

	titleText := " PCB DRILL WATCH"
	clock := theme.Dim.Render(now.Format("15:04:05"))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleText+strings.Repeat(" ", pad)+clock+" ",
		fmt.Sprintf(" %s  up %s  worker: %s", statusText,
			formatDuration(time.Duration(health.UptimeSeconds)*time.Second), daemon),
		fmt.Sprintf(" Last event: %s %s", lastEvent, activity.Render(theme)),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
