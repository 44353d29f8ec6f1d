package ai

import (
	"time"

	"github.com/david/grant-importer/internal/models"
)

// Task names one enrichment step.
type Task string

const (
	TaskBody            Task = "body"
	TaskExcerpt         Task = "excerpt"
	TaskSummary         Task = "summary"
	TaskOrganization    Task = "organization"
	TaskDifficulty      Task = "difficulty"
	TaskSuccessRate     Task = "success_rate"
	TaskKeywords        Task = "keywords"
	TaskTargetAudience  Task = "target_audience"
	TaskApplicationTips Task = "application_tips"
	TaskRequirements    Task = "requirements"
)

func (t Task) Valid() bool {
	_, ok := taskIndex[t]
	return ok
}

type fallbackClass int

const (
	fallbackNone fallbackClass = iota
	fallbackLong
	fallbackShort
)

const (
	fallbackLongText  = "この助成金について詳細な情報は公式サイトをご確認ください。申請をご検討の方は、募集要項をよくお読みになり、期限までにお申し込みください。"
	fallbackShortText = "詳細は公式サイトをご確認ください。"
)

// taskSpec describes one step: how to call the model and where the answer goes.
type taskSpec struct {
	task     Task
	opts     Options
	apply    func(e *models.Enrichment, reply string)
	fallback fallbackClass
}

// taskTable runs in this order.
var taskTable = []taskSpec{
	{
		task:     TaskBody,
		apply:    func(e *models.Enrichment, s string) { e.Body = s },
		fallback: fallbackLong,
	},
	{
		task:     TaskExcerpt,
		opts:     Options{MaxTokens: 200},
		apply:    func(e *models.Enrichment, s string) { e.Excerpt = s },
		fallback: fallbackShort,
	},
	{
		task:     TaskSummary,
		opts:     Options{MaxTokens: 300},
		apply:    func(e *models.Enrichment, s string) { e.Summary = s },
		fallback: fallbackShort,
	},
	{
		task:  TaskOrganization,
		opts:  Options{Temperature: Float(0.1), MaxTokens: 100},
		apply: func(e *models.Enrichment, s string) { e.Organization = cleanOrganization(s) },
	},
	{
		task:  TaskDifficulty,
		opts:  Options{Temperature: Float(0.3), MaxTokens: 50},
		apply: func(e *models.Enrichment, s string) { e.Difficulty = ParseDifficulty(s) },
	},
	{
		task: TaskSuccessRate,
		opts: Options{Temperature: Float(0.3), MaxTokens: 50},
		apply: func(e *models.Enrichment, s string) {
			rate := ParseSuccessRate(s)
			e.SuccessRate = &rate
		},
	},
	{
		task:  TaskKeywords,
		opts:  Options{MaxTokens: 100},
		apply: func(e *models.Enrichment, s string) { e.Keywords = ParseKeywords(s) },
	},
	{
		task:  TaskTargetAudience,
		opts:  Options{MaxTokens: 200},
		apply: func(e *models.Enrichment, s string) { e.TargetAudience = s },
	},
	{
		task:  TaskApplicationTips,
		opts:  Options{MaxTokens: 300},
		apply: func(e *models.Enrichment, s string) { e.ApplicationTips = s },
	},
	{
		task:  TaskRequirements,
		opts:  Options{MaxTokens: 400},
		apply: func(e *models.Enrichment, s string) { e.Requirements = s },
	},
}

var taskIndex = func() map[Task]int {
	m := make(map[Task]int, len(taskTable))
	for i, spec := range taskTable {
		m[spec.task] = i
	}
	return m
}()

// AllTasks lists every task in execution order.
func AllTasks() []Task {
	out := make([]Task, len(taskTable))
	for i, spec := range taskTable {
		out[i] = spec.task
	}
	return out
}

// TaskSet selects which tasks run. The zero value selects none.
type TaskSet map[Task]bool

// NewTaskSet builds a set from names; no names means every task.
func NewTaskSet(names ...string) TaskSet {
	set := make(TaskSet)
	if len(names) == 0 {
		for _, t := range AllTasks() {
			set[t] = true
		}
		return set
	}
	for _, n := range names {
		if t := Task(n); t.Valid() {
			set[t] = true
		}
	}
	return set
}

// retryDelay is base·2^attempt, attempt counting from 0.
func retryDelay(base time.Duration, attempt int) time.Duration {
	return base << uint(attempt)
}
