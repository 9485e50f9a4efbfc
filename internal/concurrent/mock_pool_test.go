// Licensed to LinDB under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. LinDB licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Code generated by MockGen-style hand authoring. Shaped the way
// mockgen would emit it, so it can be regenerated with
// `mockgen -source=pool.go -destination=mock_pool_test.go -package=concurrent`
// once the real toolchain is available.

package concurrent

import (
	"reflect"

	"github.com/golang/mock/gomock"
)

// MockPool is a mock of the Pool interface.
type MockPool struct {
	ctrl     *gomock.Controller
	recorder *MockPoolMockRecorder
}

// MockPoolMockRecorder is the mock recorder for MockPool.
type MockPoolMockRecorder struct {
	mock *MockPool
}

// NewMockPool creates a new mock instance.
func NewMockPool(ctrl *gomock.Controller) *MockPool {
	mock := &MockPool{ctrl: ctrl}
	mock.recorder = &MockPoolMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockPool) EXPECT() *MockPoolMockRecorder {
	return m.recorder
}

// Submit mocks base method.
func (m *MockPool) Submit(task Task) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Submit", task)
}

// Submit indicates an expected call of Submit.
func (mr *MockPoolMockRecorder) Submit(task interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Submit", reflect.TypeOf((*MockPool)(nil).Submit), task)
}

// SubmitCPUIntensive mocks base method.
func (m *MockPool) SubmitCPUIntensive(task Task) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "SubmitCPUIntensive", task)
}

// SubmitCPUIntensive indicates an expected call of SubmitCPUIntensive.
func (mr *MockPoolMockRecorder) SubmitCPUIntensive(task interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SubmitCPUIntensive", reflect.TypeOf((*MockPool)(nil).SubmitCPUIntensive), task)
}

// SubmitAndWait mocks base method.
func (m *MockPool) SubmitAndWait(task Task) {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "SubmitAndWait", task)
}

// SubmitAndWait indicates an expected call of SubmitAndWait.
func (mr *MockPoolMockRecorder) SubmitAndWait(task interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "SubmitAndWait", reflect.TypeOf((*MockPool)(nil).SubmitAndWait), task)
}

// Stopped mocks base method.
func (m *MockPool) Stopped() bool {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Stopped")
	ret0, _ := ret[0].(bool)
	return ret0
}

// Stopped indicates an expected call of Stopped.
func (mr *MockPoolMockRecorder) Stopped() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Stopped", reflect.TypeOf((*MockPool)(nil).Stopped))
}

// Stop mocks base method.
func (m *MockPool) Stop() {
	m.ctrl.T.Helper()
	m.ctrl.Call(m, "Stop")
}

// Stop indicates an expected call of Stop.
func (mr *MockPoolMockRecorder) Stop() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Stop", reflect.TypeOf((*MockPool)(nil).Stop))
}
