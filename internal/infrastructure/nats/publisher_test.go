package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-api-guard/internal/domain"
)

type mockJetStream struct{ mock.Mock }

func (m *mockJetStream) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	args := m.Called(subj, data, len(opts))
	ack, _ := args.Get(0).(*nats.PubAck)
	return ack, args.Error(1)
}

func TestAuditPublisher_Append(t *testing.T) {
	js := &mockJetStream{}
	var data []byte
	js.On("Publish", "audit.entries", mock.Anything, 2).
		Run(func(args mock.Arguments) { data = args.Get(1).([]byte) }).
		Return(&nats.PubAck{Stream: "AUDIT", Sequence: 1}, nil)

	entry := domain.AuditLogEntry{AuditID: "a1", SubjectID: "u1", Action: domain.AuditInsightGenerated, EntityType: "insight"}
	require.NoError(t, NewAuditPublisher(js, "audit.entries").Append(context.Background(), entry))

	var got domain.AuditLogEntry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, entry.AuditID, got.AuditID)
	assert.Equal(t, entry.Action, got.Action)
}

func TestAuditPublisher_AppendError(t *testing.T) {
	js := &mockJetStream{}
	js.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil, nats.ErrNoStreamResponse)

	err := NewAuditPublisher(js, "audit.entries").Append(context.Background(), domain.AuditLogEntry{AuditID: "a1"})
	assert.True(t, errors.Is(err, nats.ErrNoStreamResponse))
}

func TestAuditPublisher_CloseWithoutConnection(t *testing.T) {
	var p *AuditPublisher
	p.Close()
	NewAuditPublisher(&mockJetStream{}, "s").Close()
}
