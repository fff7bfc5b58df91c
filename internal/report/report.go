// Package report renders the operator's server table: every discovered node
// with its organization, port flags, required skill and available money.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kingrea/harvester/internal/discovery"
	"github.com/kingrea/harvester/internal/env"
	"github.com/kingrea/harvester/internal/node"
)

// SortKey orders the table.
type SortKey string

const (
	SortLevel SortKey = "level"
	SortMoney SortKey = "money"
	SortNone  SortKey = "none"
)

// ParseSortKey accepts level, money or none, case-insensitively. Empty means
// level. Anything else is rejected with an error.
func ParseSortKey(value string) (SortKey, error) {
	switch key := SortKey(strings.ToLower(strings.TrimSpace(value))); key {
	case SortLevel, SortMoney, SortNone:
		return key, nil
	case "":
		return SortLevel, nil
	default:
		return SortNone, fmt.Errorf("report: unknown sort %q (want level or money)", value)
	}
}

// Options controls ordering and filtering.
type Options struct {
	Sort    SortKey
	Reverse bool
	// FilterHigh drops nodes whose required skill exceeds Skill.
	FilterHigh bool
	Skill      int
}

// Header is the column row of the table.
var Header = []string{"Server", "Org", "SSH", "FTP", "SMTP", "HTTP", "SQL", "Hack level", "Available money"}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Collect discovers every node reachable from root and snapshots it. Only the
// root itself is left out; the operator's purchased hosts are listed. Nodes
// that cannot be observed are left out; their errors are joined with any
// partial discovery error and returned alongside the snapshots.
func Collect(ctx context.Context, q env.Query, root string) ([]node.Snapshot, error) {
	hosts, err := discovery.All(ctx, q, root)
	if err != nil && !discovery.IsPartial(err) {
		return nil, err
	}
	errs := []error{err}
	snaps := make([]node.Snapshot, 0, len(hosts))
	for _, host := range hosts {
		snap, serr := q.Snapshot(ctx, host)
		if serr != nil {
			if env.IsFatal(serr) {
				return nil, serr
			}
			errs = append(errs, fmt.Errorf("report: snapshot %s: %w", host, serr))
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, errors.Join(errs...)
}

// Arrange filters and orders snaps without modifying the input.
func Arrange(snaps []node.Snapshot, opts Options) []node.Snapshot {
	out := make([]node.Snapshot, 0, len(snaps))
	for _, s := range snaps {
		if opts.FilterHigh && s.RequiredSkill > opts.Skill {
			continue
		}
		out = append(out, s)
	}
	less := lessFunc(opts.Sort)
	if less == nil {
		if opts.Reverse {
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		}
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		if opts.Reverse {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

func lessFunc(key SortKey) func(a, b node.Snapshot) bool {
	switch key {
	case SortLevel:
		return func(a, b node.Snapshot) bool { return a.RequiredSkill < b.RequiredSkill }
	case SortMoney:
		return func(a, b node.Snapshot) bool { return a.MoneyAvailable > b.MoneyAvailable }
	default:
		return nil
	}
}

// Rows converts snapshots into table cells in Header order.
func Rows(snaps []node.Snapshot) [][]string {
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		row := []string{s.Hostname, s.Organization}
		for _, p := range node.AllPorts {
			row = append(row, flag(s.OpenPorts.Has(p)))
		}
		row = append(row, strconv.Itoa(s.RequiredSkill), FormatMoney(s.MoneyAvailable))
		rows = append(rows, row)
	}
	return rows
}

// Render arranges snaps and draws the bordered table.
func Render(snaps []node.Snapshot, opts Options) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(Header...).
		Rows(Rows(Arrange(snaps, opts))...).
		StyleFunc(func(row, col int) lipgloss.Style {
			style := cellStyle
			if row == table.HeaderRow {
				style = headerStyle
			}
			return style.Align(columnAlign(col))
		})
	return t.String()
}

func columnAlign(col int) lipgloss.Position {
	switch {
	case col < 2:
		return lipgloss.Left
	case col < 7:
		return lipgloss.Center
	default:
		return lipgloss.Right
	}
}

func flag(v bool) string {
	if v {
		return "Y"
	}
	return "N"
}

var moneyUnits = []string{" ", "k", "m", "b", "t"}

// FormatMoney renders v with three decimals and a thousands unit, e.g.
// $1.750m. Values beyond the largest unit stay in trillions.
func FormatMoney(v float64) string {
	i := 0
	for v >= 1000 && i < len(moneyUnits)-1 {
		v /= 1000
		i++
	}
	return fmt.Sprintf("$%.3f%s", v, moneyUnits[i])
}
