package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"reqboard/internal/domain"
	"reqboard/internal/lifecycle"
	"reqboard/internal/store"
)

func newTable(out io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	return tw
}

func nameOf(names map[string]string, id *string) string {
	if id == nil || *id == "" {
		return "-"
	}
	if n, ok := names[*id]; ok {
		return n
	}
	return *id
}

// renderBoard prints one column per status with the requests stacked under
// it.
func renderBoard(out io.Writer, snap store.Snapshot, names map[string]string) {
	cols := snap.Columns()
	if len(cols) == 0 {
		fmt.Fprintln(out, "No statuses configured.")
		return
	}
	tw := newTable(out)
	header := table.Row{}
	depth := 0
	for _, c := range cols {
		label := fmt.Sprintf("%s (%d)", c.Status.Name, len(c.Requests))
		if c.Status.IsTerminal {
			label = text.FgGreen.Sprint(label)
		}
		header = append(header, label)
		if len(c.Requests) > depth {
			depth = len(c.Requests)
		}
	}
	tw.AppendHeader(header)
	for i := 0; i < depth; i++ {
		row := table.Row{}
		for _, c := range cols {
			if i >= len(c.Requests) {
				row = append(row, "")
				continue
			}
			r := c.Requests[i]
			row = append(row, fmt.Sprintf("%s\n%s · %s", r.Title, shortID(r.ID), nameOf(names, r.AssignedToUserID)))
		}
		tw.AppendRow(row)
		tw.AppendSeparator()
	}
	tw.Render()
}

func renderRequests(out io.Writer, statuses []domain.Status, items []domain.Request, names map[string]string) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Type", "Priority", "Updated"})
	for _, r := range items {
		status := r.StatusName
		if status == "" {
			status = statusName(statuses, r.StatusID)
		}
		if !r.IsActive {
			status = text.FgHiBlack.Sprint(status + " (deleted)")
		}
		tw.AppendRow(table.Row{r.ID, r.Title, status, nameOf(names, r.AssignedToUserID), r.TypeName, r.PriorityName, r.UpdatedAt})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d requests", len(items))})
	tw.Render()
}

func renderRequest(out io.Writer, r domain.Request, names map[string]string) {
	tw := newTable(out)
	closed := "-"
	if r.ClosedAt != nil {
		closed = *r.ClosedAt
	}
	first := "-"
	if r.FirstAssignedAt != nil {
		first = *r.FirstAssignedAt
	}
	tw.AppendRows([]table.Row{
		{"ID", r.ID},
		{"Title", r.Title},
		{"Description", r.Description},
		{"Status", r.StatusName},
		{"Assignee", nameOf(names, r.AssignedToUserID)},
		{"Type", r.TypeName},
		{"Priority", r.PriorityName},
		{"Active", r.IsActive},
		{"Created", r.CreatedAt + " by " + nameOf(names, &r.CreatedBy)},
		{"First assigned", first},
		{"Closed", closed},
	})
	tw.Render()
}

func renderAssignments(out io.Writer, items []domain.Assignment, names map[string]string) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Assigned at", "Assignee", "By", "Until", "Note", ""})
	current := lifecycle.CurrentAssignee(items)
	for _, a := range items {
		until := "-"
		if a.UnassignedAt != nil {
			until = *a.UnassignedAt
		}
		note := ""
		if a.Note != nil {
			note = *a.Note
		}
		marker := ""
		if current != nil && a.AssignedTo != nil && lifecycle.IsOpen(a) && *a.AssignedTo == *current {
			marker = "current"
		}
		tw.AppendRow(table.Row{a.AssignedAt, nameOf(names, a.AssignedTo), nameOf(names, &a.AssignedBy), until, note, marker})
	}
	tw.Render()
}

func renderJournal(out io.Writer, items []domain.Transition) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Time", "Request", "From", "To", "Result", "Detail"})
	for _, t := range items {
		result := t.State
		switch t.State {
		case "committed":
			result = text.FgGreen.Sprint(result)
		case "rolled_back", "denied", "rejected", "busy":
			result = text.FgRed.Sprint(result)
		}
		tw.AppendRow(table.Row{t.TS, shortID(t.RequestID), t.FromStatusID, t.ToStatusID, result, t.Detail})
	}
	tw.Render()
}

func renderStatuses(out io.Writer, statuses []domain.Status) {
	tw := newTable(out)
	tw.AppendHeader(table.Row{"Order", "Code", "Name", "Terminal", "ID"})
	for _, s := range statuses {
		tw.AppendRow(table.Row{s.SortOrder, s.Code, s.Name, s.IsTerminal, s.ID})
	}
	tw.Render()
}

func renderLookup(out io.Writer, items any) {
	tw := newTable(out)
	switch v := items.(type) {
	case []domain.RequestType:
		tw.AppendHeader(table.Row{"Code", "Name", "Description", "ID"})
		for _, t := range v {
			tw.AppendRow(table.Row{t.Code, t.Name, t.Description, t.ID})
		}
	case []domain.Priority:
		tw.AppendHeader(table.Row{"Order", "Code", "Name", "ID"})
		for _, p := range v {
			tw.AppendRow(table.Row{p.SortOrder, p.Code, p.Name, p.ID})
		}
	case []domain.User:
		tw.AppendHeader(table.Row{"Username", "Name", "Email", "Role", "Active", "ID"})
		for _, u := range v {
			tw.AppendRow(table.Row{u.Username, u.FullName, u.Email, u.RoleCode, u.IsActive, u.ID})
		}
	}
	tw.Render()
}

func statusName(statuses []domain.Status, id string) string {
	for _, s := range statuses {
		if s.ID == id {
			return s.Name
		}
	}
	return id
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
