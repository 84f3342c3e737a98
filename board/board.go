package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
	"kanban-api/notification"
	"kanban-api/storage"
)

// The three fixed board stages.
const (
	ColumnTodo       = "todo"
	ColumnInProgress = "in-progress"
	ColumnCompleted  = "completed"
)

var ErrTaskNotFound = errors.New("board: task not found")
var ErrColumnNotFound = errors.New("board: column not found")

// Notifier is the notification store surface the controller calls into.
// A nil return is a defined no-op, never a reason to abort a mutation.
type Notifier interface {
	Create(in notification.CreateInput) *domain.Notification
}

// NewBoard returns an empty board with the three fixed stages.
func NewBoard() domain.Board {
	return domain.Board{Columns: []domain.Column{
		{ID: ColumnTodo, Title: " \U0001F4C3 To do", Tasks: []domain.Task{}},
		{ID: ColumnInProgress, Title: " ✏️ In progress", Tasks: []domain.Task{}},
		{ID: ColumnCompleted, Title: " ✔️ Completed", Tasks: []domain.Task{}},
	}}
}

// Controller owns one identity's column/task data and raises notifications
// for mutations that touch the viewer's own tasks. Task mutations always
// commit; notification and persistence outcomes never roll them back.
type Controller struct {
	userID   string
	kv       storage.KV
	notifier Notifier
	logger   *log.Logger

	mu    sync.Mutex
	board domain.Board
}

// NewController creates a controller for the identity. Call Load before use.
func NewController(userID string, kv storage.KV, notifier Notifier, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{userID: userID, kv: kv, notifier: notifier, logger: logger, board: NewBoard()}
}

// Load restores the board from the durable record. Absent or malformed
// records degrade to the default empty board.
func (c *Controller) Load(ctx context.Context) {
	data, err := c.kv.Read(ctx, storage.BoardKey(c.userID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.WithError(err).WithField("user", c.userID).Warn("failed to load board, starting fresh")
		}
		return
	}
	var b domain.Board
	if err := sonic.Unmarshal(data, &b); err != nil || len(b.Columns) == 0 {
		c.logger.WithField("user", c.userID).Warn("discarding corrupt board record")
		return
	}
	c.mu.Lock()
	c.board = b
	c.mu.Unlock()
}

// Board returns a deep copy of the current column/task structure.
func (c *Controller) Board() domain.Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := domain.Board{Columns: make([]domain.Column, len(c.board.Columns))}
	for i, col := range c.board.Columns {
		tasks := make([]domain.Task, len(col.Tasks))
		copy(tasks, col.Tasks)
		out.Columns[i] = domain.Column{ID: col.ID, Title: col.Title, Tasks: tasks}
	}
	return out
}

// AddTask appends a task to the named column and returns it.
func (c *Controller) AddTask(ctx context.Context, columnID, title, description string) (domain.Task, error) {
	task := domain.Task{ID: uuid.NewString(), Title: title, Description: description}

	c.mu.Lock()
	col := c.columnLocked(columnID)
	if col == nil {
		c.mu.Unlock()
		return domain.Task{}, ErrColumnNotFound
	}
	col.Tasks = append(col.Tasks, task)
	c.mu.Unlock()

	c.persist(ctx)
	return task, nil
}

// MoveTask relocates a task to the destination column at the given position.
// Moves within a column are plain reorders; cross-column moves of the
// viewer's own task raise a task-moved notification with the glyph-stripped
// column labels.
func (c *Controller) MoveTask(ctx context.Context, taskID, destColumnID string, destIndex int) error {
	c.mu.Lock()
	srcIdx, taskIdx := c.locateLocked(taskID)
	if srcIdx < 0 {
		c.mu.Unlock()
		return ErrTaskNotFound
	}
	dest := c.columnLocked(destColumnID)
	if dest == nil {
		c.mu.Unlock()
		return ErrColumnNotFound
	}
	src := &c.board.Columns[srcIdx]
	task := src.Tasks[taskIdx]

	src.Tasks = append(src.Tasks[:taskIdx], src.Tasks[taskIdx+1:]...)
	if destIndex < 0 || destIndex > len(dest.Tasks) {
		destIndex = len(dest.Tasks)
	}
	dest.Tasks = append(dest.Tasks, domain.Task{})
	copy(dest.Tasks[destIndex+1:], dest.Tasks[destIndex:])
	dest.Tasks[destIndex] = task

	crossColumn := src.ID != dest.ID
	srcTitle, destTitle := src.Title, dest.Title
	c.mu.Unlock()

	c.persist(ctx)

	if crossColumn && task.Assignee != nil && task.Assignee.ID == c.userID {
		c.notify(notification.CreateInput{
			Type:    domain.NotificationTaskMoved,
			Message: fmt.Sprintf("Your task %q was moved", task.Title),
			Details: fmt.Sprintf("From %q to %q", StripLabel(srcTitle), StripLabel(destTitle)),
		})
	}
	return nil
}

// AssignTask sets (or clears, with a nil assignee) a task's assignee and
// raises the assignment notifications relevant to the viewer.
func (c *Controller) AssignTask(ctx context.Context, taskID string, assignee *domain.TeamMember) error {
	c.mu.Lock()
	colIdx, taskIdx := c.locateLocked(taskID)
	if colIdx < 0 {
		c.mu.Unlock()
		return ErrTaskNotFound
	}
	task := &c.board.Columns[colIdx].Tasks[taskIdx]
	previous := task.Assignee
	task.Assignee = assignee
	title := task.Title
	c.mu.Unlock()

	c.persist(ctx)

	if assignee != nil && assignee.ID == c.userID && (previous == nil || previous.ID != assignee.ID) {
		c.notify(notification.CreateInput{
			Type:    domain.NotificationTaskAssigned,
			Message: "New task assigned to you",
			Details: fmt.Sprintf("%q", title),
		})
	}
	if previous != nil && previous.ID == c.userID && (assignee == nil || assignee.ID != previous.ID) {
		details := "Unassigned"
		if assignee != nil {
			details = "Assigned to " + assignee.Name
		}
		c.notify(notification.CreateInput{
			Type:    domain.NotificationTaskUpdated,
			Message: fmt.Sprintf("Task %q was reassigned", title),
			Details: details,
		})
	}
	return nil
}

func (c *Controller) columnLocked(id string) *domain.Column {
	for i := range c.board.Columns {
		if c.board.Columns[i].ID == id {
			return &c.board.Columns[i]
		}
	}
	return nil
}

func (c *Controller) locateLocked(taskID string) (colIdx, taskIdx int) {
	for i := range c.board.Columns {
		for j := range c.board.Columns[i].Tasks {
			if c.board.Columns[i].Tasks[j].ID == taskID {
				return i, j
			}
		}
	}
	return -1, -1
}

// persist writes the board through immediately. Failures are logged; the
// in-memory mutation stands either way.
func (c *Controller) persist(ctx context.Context) {
	c.mu.Lock()
	data, err := sonic.Marshal(c.board)
	c.mu.Unlock()
	if err != nil {
		c.logger.WithError(err).WithField("user", c.userID).Warn("failed to encode board")
		return
	}
	if err := c.kv.Write(ctx, storage.BoardKey(c.userID), data); err != nil {
		c.logger.WithError(err).WithField("user", c.userID).Warn("failed to save board")
	}
}

// notify shields task mutations from anything the notification path does.
func (c *Controller) notify(in notification.CreateInput) {
	if c.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Warn("notification call failed")
		}
	}()
	_ = c.notifier.Create(in)
}

// StripLabel removes the decorative column glyphs, leaving the plain stage
// label used in notification details.
func StripLabel(title string) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '\U0001F4C3', '✏', '✔', '️':
			return -1
		}
		return r
	}, title)
	return strings.TrimSpace(stripped)
}
