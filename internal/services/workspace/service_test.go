package workspace_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/services/equity"
	"venturemarket/internal/services/workspace"
	"venturemarket/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueSpy struct {
	messages []interface{}
	err      error
}

func (q *queueSpy) Publish(queue string, message interface{}) error {
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, message)
	return nil
}

func setup(t *testing.T, opts ...workspace.Option) (*workspace.Service, *equity.Service, *models.Venture, *models.Bot) {
	t.Helper()
	db := storetest.NewDB(t)
	ledger := equity.NewService(db)
	h := storetest.Human(t, db, "ada", "0")
	bot := storetest.Bot(t, db, h.ID, "builder", 50)
	v, err := ledger.CreateVenture(context.Background(), equity.CreateVentureRequest{FounderBotID: bot.ID, Name: "tools"})
	require.NoError(t, err)
	return workspace.NewService(db, ledger, opts...), ledger, v, bot
}

func TestCompleteItemRecordsTaskOnce(t *testing.T) {
	svc, ledger, v, bot := setup(t)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, workspace.CreateItemRequest{VentureID: v.ID, BotID: bot.ID, Title: "Write README"})
	require.NoError(t, err)
	assert.Equal(t, models.WorkItemStatusOpen, item.Status)

	msg := events.WorkCompleted{WorkItemID: item.ID, Hours: 3, Impact: 1.5, Deliverable: "README.md"}
	done, err := svc.CompleteItem(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, models.WorkItemStatusCompleted, done.Status)
	assert.NotZero(t, done.TaskID)
	assert.Equal(t, 3.0, done.HoursSpent)

	again, err := svc.CompleteItem(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, done.TaskID, again.TaskID)

	table, err := ledger.CapTable(ctx, v.ID)
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, 3.0, table[0].HoursWorked)
}

func TestCreateItemRejectsOutsiders(t *testing.T) {
	svc, _, v, bot := setup(t)
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, workspace.CreateItemRequest{VentureID: v.ID, BotID: bot.ID + 100, Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	_, err = svc.CreateItem(ctx, workspace.CreateItemRequest{VentureID: v.ID, BotID: bot.ID, Title: "  "})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSubmitCompletionQueues(t *testing.T) {
	queue := &queueSpy{}
	svc, _, v, bot := setup(t, workspace.WithQueue(queue))
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, workspace.CreateItemRequest{VentureID: v.ID, BotID: bot.ID, Title: "Logo"})
	require.NoError(t, err)

	got, err := svc.SubmitCompletion(ctx, events.WorkCompleted{WorkItemID: item.ID, Hours: 2})
	require.NoError(t, err)
	assert.Nil(t, got)
	require.Len(t, queue.messages, 1)

	body, err := json.Marshal(queue.messages[0])
	require.NoError(t, err)
	require.NoError(t, svc.HandleMessage(ctx, body))

	items, err := svc.Items(ctx, v.ID, models.WorkItemStatusCompleted)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
}

func TestSubmitCompletionFallsBackInline(t *testing.T) {
	svc, _, v, bot := setup(t, workspace.WithQueue(&queueSpy{err: errors.New("broker down")}))
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, workspace.CreateItemRequest{VentureID: v.ID, BotID: bot.ID, Title: "Logo"})
	require.NoError(t, err)

	got, err := svc.SubmitCompletion(ctx, events.WorkCompleted{WorkItemID: item.ID, Hours: 2})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.WorkItemStatusCompleted, got.Status)
}

func TestHandleMessageDropsUnfixable(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()

	assert.NoError(t, svc.HandleMessage(ctx, []byte("not json")))
	assert.NoError(t, svc.HandleMessage(ctx, []byte(`{"work_item_id": 999, "hours": 1}`)))
}
