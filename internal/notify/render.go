package notify

import (
	"fmt"
	"strings"
	"time"

	"watchpot/internal/telemetry"
)

const (
	// Unavailable stands in for any value that could not be collected
	Unavailable = "unavailable"

	timestampLayout = "2006-01-02 15:04:05"
	rule            = "======================================="
)

// ExpandTimestamp substitutes {timestamp} in a subject or body template
func ExpandTimestamp(tmpl string, at time.Time) string {
	return strings.ReplaceAll(tmpl, "{timestamp}", at.Format(timestampLayout))
}

// ErrorSubject is the fixed subject of error notifications
func ErrorSubject(at time.Time) string {
	return "WatchPot ERROR - " + at.Format(timestampLayout)
}

// ErrorHeader opens the body of an error notification
func ErrorHeader(at time.Time, message string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "WatchPot Error Report - %s\n\n", at.Format(timestampLayout))
	b.WriteString("PHOTO CAPTURE FAILED!\n\n")
	b.WriteString("Error Details:\n")
	b.WriteString(message)
	b.WriteString("\n\nSystem information and recent logs are included below for troubleshooting.\n")
	return b.String()
}

// SystemInfo renders the fixed system-information block
func SystemInfo(s telemetry.Snapshot) string {
	var b strings.Builder

	b.WriteString(banner("SYSTEM INFORMATION"))
	b.WriteString("\nNetwork Information:\n")
	fmt.Fprintf(&b, "   - Public IP:  %s\n", str(s.PublicIP))
	fmt.Fprintf(&b, "   - Private IP: %s\n", str(s.PrivateIP))

	b.WriteString("\nSystem Health:\n")
	fmt.Fprintf(&b, "   - CPU Temperature: %s\n", number(s.CPUTemperature, "%.1f°C"))
	fmt.Fprintf(&b, "   - CPU Usage:       %s\n", number(s.CPUPercent, "%.1f%%"))
	fmt.Fprintf(&b, "   - Memory Usage:    %s\n", number(s.MemoryPercent, "%.1f%%"))
	fmt.Fprintf(&b, "   - Disk Usage:      %s\n", number(s.DiskPercent, "%.1f%%"))

	b.WriteString("\nSystem Details:\n")
	fmt.Fprintf(&b, "   - Hostname:   %s\n", text(s.Hostname))
	fmt.Fprintf(&b, "   - Platform:   %s\n", text(s.Platform))
	boot := Unavailable
	if s.BootTime != nil {
		boot = s.BootTime.Format(timestampLayout)
	}
	fmt.Fprintf(&b, "   - Boot Time:  %s\n", boot)
	up := Unavailable
	if s.Uptime != nil {
		up = Uptime(*s.Uptime)
	}
	fmt.Fprintf(&b, "   - Uptime:     %s\n", up)

	b.WriteString("\nNetwork Interfaces:\n")
	if len(s.Interfaces) == 0 {
		fmt.Fprintf(&b, "   - %s\n", Unavailable)
	}
	for _, iface := range s.Interfaces {
		fmt.Fprintf(&b, "   - %s: %s\n", iface.Name, iface.Address)
	}

	b.WriteString("\n" + rule + "\n")
	return b.String()
}

// LogSection wraps collected log tails in the RECENT ERROR LOGS block
func LogSection(tails string) string {
	return "\n" + banner("RECENT ERROR LOGS") + tails + "\n" + rule + "\n"
}

// Uptime formats d as "N days, HH:MM:SS"
func Uptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	sec := int(d/time.Second) % 60

	clock := fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return fmt.Sprintf("%d days, %s", days, clock)
	}
}

func signOff(hostname string) string {
	return fmt.Sprintf("\n--\nSent by WatchPot on %s\n", text(hostname))
}

func banner(title string) string {
	pad := (len(rule) - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	return rule + "\n" + strings.Repeat(" ", pad) + title + "\n" + rule + "\n"
}

func str(p *string) string {
	if p == nil || *p == "" {
		return Unavailable
	}
	return *p
}

func text(s string) string {
	if s == "" {
		return Unavailable
	}
	return s
}

func number(p *float64, format string) string {
	if p == nil {
		return Unavailable
	}
	return fmt.Sprintf(format, *p)
}
