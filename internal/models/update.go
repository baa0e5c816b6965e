package models

// Update is a partial overlay for an Item. Nil fields are absent and leave the
// existing value untouched.
type Update struct {
	ContentType *ContentType
	Status      *Status
	Progress    *int
	CurrentStep *string

	Title            *string
	Filename         *string
	URL              *string
	Summary          *string
	KeyInsights      []string
	ActionItems      []string
	Tags             []string
	RelevanceToHydra *string

	Error *string
}

// ProgressUpdate converts a progress event into a partial carrying only
// progress, step and status. Progress events never carry result data.
func ProgressUpdate(ev ProgressEvent) Update {
	u := Update{Progress: &ev.Progress}
	if ev.Status != "" {
		status := ev.Status
		u.Status = &status
	}
	if ev.Step != "" {
		step := ev.Step
		u.CurrentStep = &step
	}
	return u
}

// ResultUpdate builds the partial applied after the full-record fetch.
// Identity, source and creation time are owned locally and never overwritten.
func ResultUpdate(full Item) Update {
	u := Update{
		KeyInsights: cloneStrings(full.KeyInsights),
		ActionItems: cloneStrings(full.ActionItems),
		Tags:        cloneStrings(full.Tags),
	}
	if full.ContentType != "" {
		ct := full.ContentType
		u.ContentType = &ct
	}
	if full.Status != "" {
		status := full.Status
		u.Status = &status
		progress := full.Progress
		u.Progress = &progress
	}
	setString(&u.CurrentStep, full.CurrentStep)
	setString(&u.Title, full.Title)
	setString(&u.Filename, full.Filename)
	setString(&u.URL, full.URL)
	setString(&u.Summary, full.Summary)
	setString(&u.RelevanceToHydra, full.RelevanceToHydra)
	setString(&u.Error, full.Error)
	return u
}

// FailureUpdate marks an item failed with msg.
func FailureUpdate(msg string) Update {
	status := StatusFailed
	step := string(StatusFailed)
	return Update{Status: &status, CurrentStep: &step, Error: &msg}
}

func setString(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}
