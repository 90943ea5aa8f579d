package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	queues []string
	err    error
}

func (r *recorder) Publish(queue string, _ interface{}) error {
	r.queues = append(r.queues, queue)
	return r.err
}

func TestMultiFansOut(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("down")}
	c := &recorder{}

	err := Multi{a, nil, b, c}.Publish("ledger_events", Event{Name: JobPaid})

	assert.EqualError(t, err, "down")
	assert.Equal(t, []string{"ledger_events"}, a.queues)
	assert.Equal(t, []string{"ledger_events"}, c.queues)
}

func TestEmitSwallowsErrors(t *testing.T) {
	r := &recorder{err: errors.New("down")}
	assert.NotPanics(t, func() {
		Emit(r, "ledger_events", TaskRecorded, 1, nil)
		Emit(nil, "ledger_events", TaskRecorded, 1, nil)
	})
	assert.Len(t, r.queues, 1)
}
