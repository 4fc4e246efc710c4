package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
)

// Call is one operation addressed by name, as sent by a UI or the CLI.
type Call struct {
	ConnectionID string                   `json:"connectionId"`
	Operation    dbcapabilities.Operation `json:"operation"`
	// Kind, when set, must match the session's kind. Product names and
	// aliases are accepted.
	Kind string          `json:"kind,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`
}

type listContainersArgs struct {
	Namespace string `json:"namespace"`
	adapter.ListOptions
}

type rawCommandArgs struct {
	Command string `json:"command"`
}

type channelsArgs struct {
	Channels []string `json:"channels"`
}

type publishArgs struct {
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// Execute decodes call.Args for call.Operation and routes it to the typed
// method. Unknown operations and malformed arguments fail with
// ValidationError.
func (m *Manager) Execute(ctx context.Context, call Call) adapter.Result {
	if call.ConnectionID == "" {
		return adapter.Fail(adapter.NewValidationError("connectionId", "connection id is required"))
	}
	if call.Operation == dbcapabilities.OpConnect {
		return m.executeConnect(ctx, call)
	}
	if err := m.checkKind(call); err != nil {
		return adapter.Fail(err)
	}

	id := call.ConnectionID
	switch call.Operation {
	case dbcapabilities.OpDisconnect:
		return m.Disconnect(ctx, id)

	case dbcapabilities.OpListNamespaces:
		return m.ListNamespaces(ctx, id)

	case dbcapabilities.OpListContainers:
		var args listContainersArgs
		if err := decodeArgs(call, &args); err != nil {
			return adapter.Fail(err)
		}
		return m.ListContainers(ctx, id, args.Namespace, args.ListOptions)

	case dbcapabilities.OpRead:
		var req adapter.ReadRequest
		if err := decodeArgs(call, &req); err != nil {
			return adapter.Fail(err)
		}
		return m.Read(ctx, id, req)

	case dbcapabilities.OpWrite:
		var req adapter.WriteRequest
		if err := decodeArgs(call, &req); err != nil {
			return adapter.Fail(err)
		}
		return m.Write(ctx, id, req)

	case dbcapabilities.OpUpdate:
		var req adapter.UpdateRequest
		if err := decodeArgs(call, &req); err != nil {
			return adapter.Fail(err)
		}
		return m.Update(ctx, id, req)

	case dbcapabilities.OpDelete:
		var req adapter.DeleteRequest
		if err := decodeArgs(call, &req); err != nil {
			return adapter.Fail(err)
		}
		return m.Delete(ctx, id, req)

	case dbcapabilities.OpAggregate:
		var req adapter.AggregateRequest
		if err := decodeArgs(call, &req); err != nil {
			return adapter.Fail(err)
		}
		return m.Aggregate(ctx, id, req)

	case dbcapabilities.OpManageSchema:
		var req adapter.SchemaRequest
		if err := decodeArgs(call, &req); err != nil {
			return adapter.Fail(err)
		}
		return m.ManageSchema(ctx, id, req)

	case dbcapabilities.OpExplain:
		var req adapter.ExplainRequest
		if err := decodeArgs(call, &req); err != nil {
			return adapter.Fail(err)
		}
		return m.Explain(ctx, id, req)

	case dbcapabilities.OpServerStats:
		return m.ServerStats(ctx, id)

	case dbcapabilities.OpVersion:
		return m.Version(ctx, id)

	case dbcapabilities.OpRawCommand:
		var args rawCommandArgs
		if err := decodeArgs(call, &args); err != nil {
			return adapter.Fail(err)
		}
		return m.RawCommand(ctx, id, args.Command)

	case dbcapabilities.OpSubscribe:
		var args channelsArgs
		if err := decodeArgs(call, &args); err != nil {
			return adapter.Fail(err)
		}
		return m.Subscribe(ctx, id, args.Channels)

	case dbcapabilities.OpUnsubscribe:
		var args channelsArgs
		if err := decodeArgs(call, &args); err != nil {
			return adapter.Fail(err)
		}
		return m.Unsubscribe(ctx, id, args.Channels)

	case dbcapabilities.OpUnsubscribeAll:
		return m.UnsubscribeAll(ctx, id)

	case dbcapabilities.OpPublish:
		var args publishArgs
		if err := decodeArgs(call, &args); err != nil {
			return adapter.Fail(err)
		}
		return m.Publish(ctx, id, args.Channel, args.Payload)

	case dbcapabilities.OpConsumeMessages:
		var req adapter.ConsumeRequest
		if err := decodeArgs(call, &req); err != nil {
			return adapter.Fail(err)
		}
		return m.ConsumeMessages(ctx, id, req.Topic, req.Limit, req.FromBeginning)
	}

	return adapter.Fail(adapter.NewValidationError("operation", fmt.Sprintf("unknown operation %q", call.Operation)))
}

func (m *Manager) executeConnect(ctx context.Context, call Call) adapter.Result {
	if len(bytes.TrimSpace(call.Args)) == 0 {
		return m.ConnectStored(ctx, call.ConnectionID)
	}
	var profile adapter.ConnectionProfile
	if err := decodeArgs(call, &profile); err != nil {
		return adapter.Fail(err)
	}
	if call.Kind != "" {
		hint, ok := dbcapabilities.ParseKind(call.Kind)
		if !ok {
			return adapter.Fail(adapter.NewValidationError("kind", fmt.Sprintf("unknown backend kind %q", call.Kind)))
		}
		if profile.Kind == "" {
			profile.Kind = hint
		} else if profile.Kind != hint {
			return adapter.Fail(adapter.NewValidationError("kind", fmt.Sprintf("profile kind %s does not match %s", profile.Kind, hint)))
		}
	}
	return m.Connect(ctx, call.ConnectionID, profile)
}

// checkKind rejects calls whose kind hint disagrees with the live session.
// Without a session the call proceeds and fails with ConnectionError.
func (m *Manager) checkKind(call Call) error {
	if call.Kind == "" {
		return nil
	}
	hint, ok := dbcapabilities.ParseKind(call.Kind)
	if !ok {
		return adapter.NewValidationError("kind", fmt.Sprintf("unknown backend kind %q", call.Kind))
	}
	session, err := m.sessions.Get(call.ConnectionID)
	if err != nil {
		return nil
	}
	if session.Kind() != hint {
		return adapter.NewValidationError("kind", fmt.Sprintf("connection %s is %s, not %s", call.ConnectionID, session.Kind(), hint))
	}
	return nil
}

// decodeArgs strictly decodes call.Args into v. Empty args leave v zero.
func decodeArgs(call Call, v interface{}) error {
	if len(bytes.TrimSpace(call.Args)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(call.Args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return adapter.NewValidationError("args", fmt.Sprintf("invalid arguments for %s: %v", call.Operation, err))
	}
	return nil
}
