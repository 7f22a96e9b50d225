package host

import (
	"errors"
	"fmt"

	"github.com/courier-dev/courier/agent"
	"github.com/courier-dev/courier/proto"
)

// wireFailure is the JSON form of one failed handler invocation.
type wireFailure struct {
	Agent string `json:"agent"`
	Cause string `json:"cause"`
}

// wireReply is the JSON form of a dispatch result. The HTTP and NATS
// transports serve it to callers, and dedupe records store it for replay.
// Status is usually a dispatch status; transports also use "rejected" and
// "dropped" for envelopes that never reached the dispatcher.
type wireReply struct {
	Status    string                     `json:"status"`
	Agents    []string                   `json:"agents,omitempty"`
	Responses map[string]*agent.Envelope `json:"responses,omitempty"`
	Failures  []wireFailure              `json:"failures,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

func replyFromResult(result *agent.DispatchResult) *wireReply {
	reply := &wireReply{
		Status: string(result.Status),
		Agents: result.Agents(),
	}
	if len(result.Responses) > 0 {
		reply.Responses = result.Responses
	}
	for _, f := range result.Failures {
		reply.Failures = append(reply.Failures, wireFailure{Agent: f.Agent, Cause: f.Err.Error()})
	}
	if err := result.Err(); err != nil {
		reply.Error = err.Error()
	}
	return reply
}

func resultFromReply(reply *wireReply) *agent.DispatchResult {
	var failures []agent.Failure
	for _, f := range reply.Failures {
		failures = append(failures, agent.Failure{Agent: f.Agent, Err: errors.New(f.Cause)})
	}
	return agent.RebuildResult(agent.Status(reply.Status), reply.Agents, reply.Responses, failures)
}

func envelopeToProto(env *agent.Envelope) *proto.Envelope {
	pb := &proto.Envelope{
		Id:            env.ID,
		Type:          env.Type,
		Payload:       env.Payload,
		CorrelationId: env.CorrelationID,
		Sender:        env.Sender,
		Timestamp:     env.Timestamp,
	}
	if len(env.Metadata) > 0 {
		pb.Metadata = make(map[string]string, len(env.Metadata))
		for k, v := range env.Metadata {
			pb.Metadata[k] = fmt.Sprintf("%v", v)
		}
	}
	return pb
}

func envelopeFromProto(pb *proto.Envelope) *agent.Envelope {
	env := &agent.Envelope{
		ID:            pb.Id,
		Type:          pb.Type,
		Payload:       pb.Payload,
		CorrelationID: pb.CorrelationId,
		Sender:        pb.Sender,
		Timestamp:     pb.Timestamp,
	}
	if len(pb.Metadata) > 0 {
		env.Metadata = make(map[string]interface{}, len(pb.Metadata))
		for k, v := range pb.Metadata {
			env.Metadata[k] = v
		}
	}
	return env
}

func replyToProto(result *agent.DispatchResult) *proto.DispatchReply {
	reply := &proto.DispatchReply{
		Status: string(result.Status),
		Agents: result.Agents(),
	}
	if len(result.Responses) > 0 {
		reply.Responses = make(map[string]*proto.Envelope, len(result.Responses))
		for id, resp := range result.Responses {
			reply.Responses[id] = envelopeToProto(resp)
		}
	}
	for _, f := range result.Failures {
		reply.Failures = append(reply.Failures, &proto.Failure{Agent: f.Agent, Cause: f.Err.Error()})
	}
	if err := result.Err(); err != nil {
		reply.Error = err.Error()
	}
	return reply
}
