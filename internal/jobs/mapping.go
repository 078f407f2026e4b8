package jobs

import (
	"net/url"
	"strings"
	"time"

	"github.com/JaimeStill/mender/pkg/query"
	"github.com/JaimeStill/mender/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "jobs", "j").
	Same(
		"id", "template", "instruction",
		"input_filename", "input_key", "prompt_id",
		"status", "error_kind", "error_message",
		"progress_value", "progress_max",
		"result_filename", "result_key", "result_url",
		"created_at", "updated_at", "completed_at",
	)

var defaultSort = query.SortField{
	Field:      "created_at",
	Descending: true,
}

// Filters contains optional filtering criteria for job queries. Status
// matches any of the listed values.
type Filters struct {
	Status        []string   `json:"status,omitempty"`
	Template      *string    `json:"template,omitempty"`
	ErrorKind     *string    `json:"error_kind,omitempty"`
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	status := make([]any, len(f.Status))
	for i, s := range f.Status {
		status[i] = s
	}

	return b.
		WhereIn("status", status).
		WhereEquals("template", f.Template).
		WhereEquals("error_kind", f.ErrorKind).
		WhereSince("created_at", f.CreatedAfter).
		WhereBefore("created_at", f.CreatedBefore)
}

// FiltersFromQuery extracts filter values from URL query parameters.
// status accepts a comma-separated list; created_after and created_before
// are RFC 3339 timestamps.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if s := values.Get("status"); s != "" {
		for part := range strings.SplitSeq(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Status = append(f.Status, part)
			}
		}
	}

	if t := values.Get("template"); t != "" {
		f.Template = &t
	}

	if k := values.Get("error_kind"); k != "" {
		f.ErrorKind = &k
	}

	if v := values.Get("created_after"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.CreatedAfter = &t
		}
	}

	if v := values.Get("created_before"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.CreatedBefore = &t
		}
	}

	return f
}

func scanJob(s repository.Scanner) (Job, error) {
	var j Job
	err := s.Scan(
		&j.ID,
		&j.Template,
		&j.Instruction,
		&j.InputFilename,
		&j.InputKey,
		&j.PromptID,
		&j.Status,
		&j.ErrorKind,
		&j.ErrorMessage,
		&j.ProgressValue,
		&j.ProgressMax,
		&j.ResultFilename,
		&j.ResultKey,
		&j.ResultURL,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
	)
	return j, err
}
