package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"conveyor/internal/api"
	"conveyor/internal/preflight"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

// nodeStatusLines renders a node summary for `conveyor status`.
func nodeStatusLines(url string, status api.NodeStatus, colorize bool) []string {
	lines := renderSectionHeader("Node", colorize)
	lines = append(lines,
		renderStatusLine("Address", statusInfo, url, colorize),
		renderStatusLine("Instance", statusInfo, status.InstanceID, colorize),
	)
	if status.StartedAt != "" {
		lines = append(lines, renderStatusLine("Started", statusInfo, status.StartedAt, colorize))
	}
	if !status.Alive {
		lines = append(lines, renderStatusLine("Store", statusError, "Node appears to be dead", colorize))
		return lines
	}
	lines = append(lines, renderStatusLine("Store", statusOK, "Alive", colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Documents", colorize)...)
	lines = append(lines,
		renderStatusLine("Active", statusInfo, fmt.Sprintf("%d", status.Active), colorize),
		renderStatusLine("Archived", statusInfo, fmt.Sprintf("%d (%s)", status.Archived, formatBytes(status.ArchiveBytes)), colorize),
		renderStatusLine("Indexed tags", statusInfo, fmt.Sprintf("%d", status.IndexedTags), colorize),
	)

	p := status.Pipeline
	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Pipeline", colorize)...)
	if !p.Prepared {
		lines = append(lines, renderStatusLine("Status", statusWarn, "not prepared", colorize))
	}
	lines = append(lines,
		renderStatusLine("Processed", statusOK, countWithBuffer(p.ProcessedCount, status.Buffered.Processed), colorize),
		renderStatusLine("Discarded", statusInfo, countWithBuffer(p.DiscardedCount, status.Buffered.Discarded), colorize),
	)
	failedKind := statusOK
	if p.FailedCount+status.Buffered.Failed > 0 {
		failedKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Failed", failedKind, countWithBuffer(p.FailedCount, status.Buffered.Failed), colorize))
	lines = append(lines, renderStatusLine("Archive bounds", statusInfo, archiveBounds(p.MaxEntriesToKeep, p.MaxArchiveBytes, p.DiscardOldEntries), colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Stages", colorize)...)
	if len(status.Stages) == 0 {
		lines = append(lines, renderStatusLine("Configured", statusWarn, "none", colorize))
	}
	for _, name := range status.Stages {
		lines = append(lines, renderStatusLine(name, statusInfo, "configured", colorize))
	}
	return lines
}

// checkLines renders preflight results for `conveyor doctor`.
func checkLines(results []preflight.Result, colorize bool) []string {
	lines := renderSectionHeader("Checks", colorize)
	for _, r := range results {
		kind := statusOK
		if !r.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(r.Name, kind, r.Detail, colorize))
	}
	return lines
}

func countWithBuffer(flushed, buffered int64) string {
	if buffered == 0 {
		return fmt.Sprintf("%d", flushed)
	}
	return fmt.Sprintf("%d (+%d pending flush)", flushed, buffered)
}

func archiveBounds(entries int, bytes int64, discardOld bool) string {
	parts := make([]string, 0, 3)
	if entries > 0 {
		parts = append(parts, fmt.Sprintf("max %d entries", entries))
	}
	if bytes > 0 {
		parts = append(parts, "max "+formatBytes(bytes))
	}
	if len(parts) == 0 {
		return "unbounded"
	}
	if discardOld {
		parts = append(parts, "discarding oldest")
	}
	return strings.Join(parts, ", ")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
