package server

import (
	"context"
	"fmt"
	"reflect"

	"port-rpc/message"
	"port-rpc/transformer"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewService 创建 service 并扫描所有合法方法
func NewService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	// 用类型名作为 service name, procedures are addressed as "Name.Method"
	srv := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.RegisterMethods()

	if len(srv.method) == 0 {
		return nil, fmt.Errorf("rpc: %s has no methods of the form (args *A, reply *R) error", srv.name)
	}
	return srv, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// RegisterMethods 扫描 struct 的导出方法，过滤出符合 RPC 签名的
func (s *service) RegisterMethods() {
	// 合法条件: 3 个入参 (receiver, *Args, *Reply), 返回 error
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}
}

// Call 通过反射调用方法
func (s *service) Call(mType *methodType, argv, replyv reflect.Value) error {
	args := [3]reflect.Value{s.rcvr, argv, replyv}
	results := mType.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}

// procedure adapts one reflected method to a QueryFunc.
func (s *service) procedure(mType *methodType) QueryFunc {
	return func(_ context.Context, input any) (any, error) {
		argv := reflect.New(mType.ArgType)
		if err := transformer.Bind(input, argv.Interface()); err != nil {
			return nil, NewError(message.CodeBadRequest, fmt.Sprintf("invalid input: %v", err))
		}
		replyv := reflect.New(mType.ReplyType)
		if err := s.Call(mType, argv, replyv); err != nil {
			return nil, err
		}
		return replyv.Interface(), nil
	}
}
