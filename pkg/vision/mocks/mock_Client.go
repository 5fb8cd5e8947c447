// Package mocks provides test doubles for the vision client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	vision "github.com/sells-group/vqa-filter/pkg/vision"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Analyze provides a mock function with given fields: ctx, req
func (_m *MockClient) Analyze(ctx context.Context, req vision.Request) (*vision.Response, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Analyze")
	}

	var r0 *vision.Response
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, vision.Request) (*vision.Response, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, vision.Request) *vision.Response); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*vision.Response)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, vision.Request) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Close provides a mock function with no fields
func (_m *MockClient) Close() error {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Close")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func() error); ok {
		r0 = rf()
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
