package main

import (
	"context"
	"time"

	"github.com/naveego/live-go/message"
)

// Echo is the service livectl serve exposes.
type Echo struct {
	peer string
}

type SayArgs struct {
	Text string `json:"text"`
}

type SayReply struct {
	Text string `json:"text"`
	Peer string `json:"peer"`
}

func (e *Echo) Say(args *SayArgs, reply *SayReply) error {
	if args.Text == "" {
		return message.NewError(message.CodeBadRequest, "text is required")
	}
	reply.Text = args.Text
	reply.Peer = e.peer
	return nil
}

type TimeArgs struct{}

type TimeReply struct {
	Now time.Time `json:"now"`
}

func (e *Echo) Time(ctx context.Context, args *TimeArgs, reply *TimeReply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply.Now = time.Now().UTC()
	return nil
}
