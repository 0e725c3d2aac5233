// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Fetch() config.FetchConfig {
	args := m.Called()
	return args.Get(0).(config.FetchConfig)
}

func (m *MockConfig) Walker() config.WalkerConfig {
	args := m.Called()
	return args.Get(0).(config.WalkerConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Storage() config.StorageConfig {
	args := m.Called()
	return args.Get(0).(config.StorageConfig)
}

func (m *MockConfig) Signals() config.SignalsConfig {
	args := m.Called()
	return args.Get(0).(config.SignalsConfig)
}

// --- Setters ---

func (m *MockConfig) SetWalkerMaxItems(n int) {
	m.Called(n)
}

func (m *MockConfig) SetWalkerMaxDuration(d time.Duration) {
	m.Called(d)
}

func (m *MockConfig) SetEngineMaxSessions(n int) {
	m.Called(n)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

// -- Browser Mocks --

// MockView mocks schemas.View.
type MockView struct {
	mock.Mock
}

var _ schemas.View = (*MockView)(nil)

func (m *MockView) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockView) FindOne(ctx context.Context, sel schemas.Selector) (schemas.Element, error) {
	args := m.Called(ctx, sel)
	el, _ := args.Get(0).(schemas.Element)
	return el, args.Error(1)
}

func (m *MockView) FindAll(ctx context.Context, sel schemas.Selector) ([]schemas.Element, error) {
	args := m.Called(ctx, sel)
	els, _ := args.Get(0).([]schemas.Element)
	return els, args.Error(1)
}

func (m *MockView) FindIn(ctx context.Context, root schemas.Element, sel schemas.Selector) ([]schemas.Element, error) {
	args := m.Called(ctx, root, sel)
	els, _ := args.Get(0).([]schemas.Element)
	return els, args.Error(1)
}

func (m *MockView) OuterHTML(ctx context.Context, el schemas.Element) (string, error) {
	args := m.Called(ctx, el)
	return args.String(0), args.Error(1)
}

func (m *MockView) Act(ctx context.Context, el schemas.Element, g schemas.Gesture) error {
	return m.Called(ctx, el, g).Error(0)
}

func (m *MockView) Evaluate(ctx context.Context, script string, out interface{}) error {
	return m.Called(ctx, script, out).Error(0)
}

func (m *MockView) WaitFor(ctx context.Context, sel schemas.Selector, timeout time.Duration) error {
	return m.Called(ctx, sel, timeout).Error(0)
}

func (m *MockView) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockView) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockPage mocks schemas.Page.
type MockPage struct {
	MockView
}

var _ schemas.Page = (*MockPage)(nil)

func (m *MockPage) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockPageFactory mocks schemas.PageFactory.
type MockPageFactory struct {
	mock.Mock
}

func (m *MockPageFactory) NewPage(ctx context.Context) (schemas.Page, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).(schemas.Page)
	return p, args.Error(1)
}

// -- Collaborator Mocks --

// MockFetcher mocks schemas.Fetcher.
type MockFetcher struct {
	mock.Mock
}

var _ schemas.Fetcher = (*MockFetcher)(nil)

func (m *MockFetcher) Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
	args := m.Called(ctx, url, headers, timeout)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// MockStorage mocks schemas.Storage.
type MockStorage struct {
	mock.Mock
}

var _ schemas.Storage = (*MockStorage)(nil)

func (m *MockStorage) UpsertRecord(ctx context.Context, collection, id string, record interface{}) error {
	return m.Called(ctx, collection, id, record).Error(0)
}

func (m *MockStorage) GetRecord(ctx context.Context, collection, id string, out interface{}) error {
	return m.Called(ctx, collection, id, out).Error(0)
}

func (m *MockStorage) PutBlob(ctx context.Context, data []byte, meta schemas.BlobMetadata) (string, error) {
	args := m.Called(ctx, data, meta)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) ReadBlob(ctx context.Context, handle string) ([]byte, error) {
	args := m.Called(ctx, handle)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockStorage) ListBlobs(ctx context.Context, target string) ([]schemas.BlobInfo, error) {
	args := m.Called(ctx, target)
	blobs, _ := args.Get(0).([]schemas.BlobInfo)
	return blobs, args.Error(1)
}

func (m *MockStorage) MediaRefs(ctx context.Context, target, itemID string) ([]schemas.MediaReference, error) {
	args := m.Called(ctx, target, itemID)
	refs, _ := args.Get(0).([]schemas.MediaReference)
	return refs, args.Error(1)
}

func (m *MockStorage) PutMediaRef(ctx context.Context, target, itemID string, ref schemas.MediaReference) (bool, error) {
	args := m.Called(ctx, target, itemID, ref)
	return args.Bool(0), args.Error(1)
}

// MockSnapshotter mocks schemas.Snapshotter.
type MockSnapshotter struct {
	mock.Mock
}

func (m *MockSnapshotter) SaveSnapshot(ctx context.Context, name string, png []byte) (string, error) {
	args := m.Called(ctx, name, png)
	return args.String(0), args.Error(1)
}
