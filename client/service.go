package client

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/naveego/live-go/message"
)

type methodType struct {
	method    reflect.Method
	withCtx   bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// newService 创建 service 并扫描所有合法方法
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	srv := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.registerMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("rpc: type %s has no exported methods of suitable type", name)
	}
	return srv, nil
}

// registerMethods 扫描 struct 的导出方法，过滤出符合 RPC 签名的:
//
//	func (t *T) M(args *A, reply *R) error
//	func (t *T) M(ctx context.Context, args *A, reply *R) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}
		first := 1
		withCtx := mt.NumIn() == 4 && mt.In(1) == contextType
		if withCtx {
			first = 2
		} else if mt.NumIn() != 3 {
			continue
		}
		if mt.In(first).Kind() != reflect.Ptr || mt.In(first+1).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			withCtx:   withCtx,
			ArgType:   mt.In(first).Elem(),
			ReplyType: mt.In(first + 1).Elem(),
		}
	}
}

// call 通过反射调用方法
func (s *service) call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	args := []reflect.Value{s.rcvr}
	if mType.withCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	args = append(args, argv, replyv)
	results := mType.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// handler exposes one method as a Handler.
func (s *service) handler(mType *methodType) Handler {
	return func(ctx context.Context, param json.RawMessage) (any, error) {
		argv := reflect.New(mType.ArgType)
		if len(param) > 0 {
			if err := json.Unmarshal(param, argv.Interface()); err != nil {
				return nil, message.NewError(message.CodeBadRequest, "invalid params: "+err.Error())
			}
		}
		replyv := reflect.New(mType.ReplyType)
		if err := s.call(ctx, mType, argv, replyv); err != nil {
			return nil, err
		}
		return replyv.Interface(), nil
	}
}

// RegisterService serves every exported method of rcvr shaped like
//
//	func (t *T) M(args *A, reply *R) error
//
// as the request handler "T.M". A leading context.Context parameter is also
// accepted and receives the handler context.
func (c *Client) RegisterService(rcvr any) error {
	return c.RegisterServiceName("", rcvr)
}

// RegisterServiceName is RegisterService with an explicit handler name in
// place of the type name.
func (c *Client) RegisterServiceName(name string, rcvr any) error {
	srv, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	for methodName, mType := range srv.method {
		c.OnRequest(srv.name+message.MethodSeparator+methodName, srv.handler(mType))
	}
	return nil
}
