package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"finnect-auth/internal/config"
	"finnect-auth/internal/util"
)

// PreparedStatements holds the statements used by the account repository.
type PreparedStatements struct {
	CreateAccount       *gocql.Query
	CreateEmailIndex    *gocql.Query
	CreateIDNumberIndex *gocql.Query
	GetAccount          *gocql.Query
	GetAccountByEmail   *gocql.Query
	GetAccountByOTP     *gocql.Query
	SetOTP              *gocql.Query
	ClearOTP            *gocql.Query
	InsertOTPIndex      *gocql.Query
	DeleteOTPIndex      *gocql.Query
	ResetFailedLogins   *gocql.Query
	UpdateFailedLogins  *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateAccount = s.Session.Query(`
    INSERT INTO accounts (
        account_bucket, account_id, email, username, first_name, middle_name,
        last_name, id_number, security_question, security_answer_encrypted,
        security_answer_key_id, role, account_status, credential_hash,
        failed_login_attempts, last_failed_login, otp_code, otp_expires_at,
        created_at, updated_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateEmailIndex = s.Session.Query(`
        INSERT INTO accounts_by_email (email, account_bucket, account_id)
        VALUES (?, ?, ?) IF NOT EXISTS`)

	prepared.CreateIDNumberIndex = s.Session.Query(`
        INSERT INTO accounts_by_id_number (id_number, account_id)
        VALUES (?, ?) IF NOT EXISTS`)

	prepared.GetAccount = s.Session.Query(`
        SELECT account_bucket, account_id, email, username, first_name,
            middle_name, last_name, id_number, security_question,
            security_answer_encrypted, security_answer_key_id, role,
            account_status, credential_hash, failed_login_attempts,
            last_failed_login, otp_code, otp_expires_at, created_at, updated_at
        FROM accounts WHERE account_bucket = ? AND account_id = ?`)

	prepared.GetAccountByEmail = s.Session.Query(`
        SELECT account_bucket, account_id FROM accounts_by_email WHERE email = ?`)

	prepared.GetAccountByOTP = s.Session.Query(`
        SELECT account_bucket, account_id, expires_at FROM accounts_by_otp
        WHERE otp_code = ?`)

	prepared.SetOTP = s.Session.Query(`
        UPDATE accounts SET otp_code = ?, otp_expires_at = ?, updated_at = ?
        WHERE account_bucket = ? AND account_id = ?`)

	prepared.ClearOTP = s.Session.Query(`
        UPDATE accounts SET otp_code = '', otp_expires_at = null, updated_at = ?
        WHERE account_bucket = ? AND account_id = ?`)

	prepared.InsertOTPIndex = s.Session.Query(`
        INSERT INTO accounts_by_otp (otp_code, account_bucket, account_id, expires_at)
        VALUES (?, ?, ?, ?) USING TTL ?`)

	prepared.DeleteOTPIndex = s.Session.Query(`
        DELETE FROM accounts_by_otp WHERE otp_code = ?`)

	prepared.ResetFailedLogins = s.Session.Query(`
        UPDATE accounts SET failed_login_attempts = 0, last_failed_login = null, updated_at = ?
        WHERE account_bucket = ? AND account_id = ?`)

	prepared.UpdateFailedLogins = s.Session.Query(`
        UPDATE accounts SET failed_login_attempts = ?, last_failed_login = ?, updated_at = ?
        WHERE account_bucket = ? AND account_id = ?
        IF failed_login_attempts = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
