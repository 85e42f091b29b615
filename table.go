package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/video-stream/subtitler/internal/db/models"
)

func renderTasks(tasks []models.Task) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "File", "Status", "Progress", "Message", "Updated"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{
			t.ID,
			t.FileName,
			string(t.Status),
			fmt.Sprintf("%.0f%%", t.Progress),
			t.Message,
			humanize.RelTime(t.UpdatedAt, time.Now(), "ago", "from now"),
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 5, WidthMax: 48},
	})
	return tw.Render()
}
