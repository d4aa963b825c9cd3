package peerrank

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/lightningnetwork/peerrank/autopilot"
)

// RenderRecommendations renders the first maxRows recommendations of set as
// a table with one column per contributing strategy.
func RenderRecommendations(set *autopilot.RecommendationSet,
	maxRows int) string {

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle("Recommended peers, cycle %d (%v)", set.Cycle,
		set.Timestamp.UTC().Format("2006-01-02 15:04:05"))

	header := table.Row{"#", "Node", "Score"}
	for _, name := range set.Succeeded {
		header = append(header, name)
	}
	t.AppendHeader(header)

	configs := []table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
	}
	for i := 3; i <= len(header); i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i,
			Align:       text.AlignRight,
			Transformer: scoreTransformer,
		})
	}
	t.SetColumnConfigs(configs)

	for i, rec := range set.Recommendations {
		if i >= maxRows {
			break
		}

		row := table.Row{i + 1, rec.NodeID.String(), rec.Score}
		for _, name := range set.Succeeded {
			row = append(row, rec.Breakdown[name])
		}
		t.AppendRow(row)
	}

	if len(set.Recommendations) > maxRows {
		t.AppendFooter(table.Row{
			"", fmt.Sprintf("%d more not shown",
				len(set.Recommendations)-maxRows),
		})
	}

	if len(set.Dropped) > 0 {
		dropped := make([]string, 0, len(set.Dropped))
		for name, err := range set.Dropped {
			dropped = append(dropped, fmt.Sprintf("%v: %v", name,
				err))
		}
		sort.Strings(dropped)
		t.SetCaption("dropped strategies: %v",
			strings.Join(dropped, "; "))
	}

	return t.Render()
}

// scoreTransformer prints scores with a fixed precision.
func scoreTransformer(val interface{}) string {
	if f, ok := val.(float64); ok {
		return fmt.Sprintf("%.4f", f)
	}

	return fmt.Sprint(val)
}
