package customer

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCustomerRepository struct {
	mock.Mock
}

func (_m *MockCustomerRepository) Create(ctx context.Context, c *Customer) (*Customer, error) {
	ret := _m.Called(ctx, c)
	var r0 *Customer
	switch v := ret.Get(0).(type) {
	case func(context.Context, *Customer) *Customer:
		r0 = v(ctx, c)
	case *Customer:
		r0 = v
	}
	return r0, ret.Error(1)
}

func (_m *MockCustomerRepository) FindByID(ctx context.Context, customerID string) (*Customer, error) {
	ret := _m.Called(ctx, customerID)
	var r0 *Customer
	if v := ret.Get(0); v != nil {
		r0 = v.(*Customer)
	}
	return r0, ret.Error(1)
}

func (_m *MockCustomerRepository) FindByAgent(ctx context.Context, agentID string) ([]*Customer, error) {
	ret := _m.Called(ctx, agentID)
	var r0 []*Customer
	if v := ret.Get(0); v != nil {
		r0 = v.([]*Customer)
	}
	return r0, ret.Error(1)
}

func (_m *MockCustomerRepository) FindAll(ctx context.Context, activeOnly bool) ([]*Customer, error) {
	ret := _m.Called(ctx, activeOnly)
	var r0 []*Customer
	if v := ret.Get(0); v != nil {
		r0 = v.([]*Customer)
	}
	return r0, ret.Error(1)
}

func (_m *MockCustomerRepository) SetDocumentURL(ctx context.Context, customerID, url string) error {
	return _m.Called(ctx, customerID, url).Error(0)
}

func (_m *MockCustomerRepository) SetActiveStatus(ctx context.Context, customerID string, isActive bool) error {
	return _m.Called(ctx, customerID, isActive).Error(0)
}
