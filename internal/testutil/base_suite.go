package testutil

import (
	"context"

	"github.com/stretchr/testify/suite"

	"github.com/subkernel/subkernel/internal/cache"
	"github.com/subkernel/subkernel/internal/config"
	"github.com/subkernel/subkernel/internal/locks"
	"github.com/subkernel/subkernel/internal/logger"
	"github.com/subkernel/subkernel/internal/repository/inmemory"
	"github.com/subkernel/subkernel/internal/types"
)

// BaseServiceTestSuite wires fresh in-memory stores, stubs and a scoped
// context for every test. Service suites embed it and build their
// ServiceParams from the getters.
type BaseServiceTestSuite struct {
	suite.Suite

	ctx       context.Context
	cfg       *config.Configuration
	log       *logger.Logger
	stores    *inmemory.Stores
	gateway   *StubGateway
	lookup    *StubCredentialLookup
	publisher *RecordingPublisher
	cache     cache.Cache
	subLocks  *locks.KeyedMutex
}

// SetupTest resets all state before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = types.SetUserID(
		types.SetEnvironmentID(
			types.SetTenantID(context.Background(), "tenant_test"),
			"env_test"),
		"user_test")
	s.cfg = config.GetDefaultConfig()
	s.log = logger.GetLogger()
	s.stores = inmemory.NewStores()
	s.gateway = NewStubGateway()
	s.lookup = NewStubCredentialLookup()
	s.publisher = NewRecordingPublisher()
	s.cache = cache.NewInMemoryCache()
	s.subLocks = locks.NewKeyedMutex()
}

func (s *BaseServiceTestSuite) GetContext() context.Context         { return s.ctx }
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration    { return s.cfg }
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger           { return s.log }
func (s *BaseServiceTestSuite) GetStores() *inmemory.Stores         { return s.stores }
func (s *BaseServiceTestSuite) GetGateway() *StubGateway            { return s.gateway }
func (s *BaseServiceTestSuite) GetLookup() *StubCredentialLookup    { return s.lookup }
func (s *BaseServiceTestSuite) GetPublisher() *RecordingPublisher   { return s.publisher }
func (s *BaseServiceTestSuite) GetCache() cache.Cache               { return s.cache }
func (s *BaseServiceTestSuite) GetSubscriptionLocks() *locks.KeyedMutex { return s.subLocks }
