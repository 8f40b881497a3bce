package fabric

import "github.com/stretchr/testify/mock"

type MockFabric struct {
	mock.Mock
}

func (m *MockFabric) PublishRoom(roomId string, data []byte) error {
	args := m.Called(roomId, data)
	return args.Error(0)
}

func (m *MockFabric) PublishPresence(data []byte) error {
	args := m.Called(data)
	return args.Error(0)
}

func (m *MockFabric) SubscribeRooms(handler func(roomId string, data []byte)) error {
	args := m.Called(handler)
	return args.Error(0)
}

func (m *MockFabric) SubscribePresence(handler func(data []byte)) error {
	args := m.Called(handler)
	return args.Error(0)
}

func (m *MockFabric) Close() {
	m.Called()
}
