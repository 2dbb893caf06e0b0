// Package mocks provides test doubles for the affinity client.
package mocks

import (
	"context"

	affinity "github.com/sells-group/affinity-cli/pkg/affinity"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Predict provides a mock function with given fields: ctx, smiles, sequence
func (_m *MockClient) Predict(ctx context.Context, smiles string, sequence string) (*affinity.Prediction, error) {
	ret := _m.Called(ctx, smiles, sequence)

	if len(ret) == 0 {
		panic("no return value specified for Predict")
	}

	var r0 *affinity.Prediction
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (*affinity.Prediction, error)); ok {
		return rf(ctx, smiles, sequence)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string) *affinity.Prediction); ok {
		r0 = rf(ctx, smiles, sequence)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*affinity.Prediction)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, smiles, sequence)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
