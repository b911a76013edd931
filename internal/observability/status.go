package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle      Role = "IDLE"
	RolePlanning  Role = "PLANNING"
	RoleQuerying  Role = "QUERYING"
	RoleReporting Role = "REPORTING"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentRole   Role
	ActiveTask    string
	InFlight      int
	LastHeartbeat time.Time
}

var globalStatus = &SystemStatus{
	CurrentRole:   RoleIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = role
	globalStatus.ActiveTask = task
}

// Begin marks one more user event in flight and returns its completion func.
func Begin(task string) func() {
	globalStatus.mu.Lock()
	globalStatus.InFlight++
	globalStatus.ActiveTask = task
	globalStatus.mu.Unlock()
	return func() {
		globalStatus.mu.Lock()
		defer globalStatus.mu.Unlock()
		globalStatus.InFlight--
		if globalStatus.InFlight <= 0 {
			globalStatus.InFlight = 0
			globalStatus.CurrentRole = RoleIdle
			globalStatus.ActiveTask = ""
		}
	}
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Role, string, int, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentRole, globalStatus.ActiveTask, globalStatus.InFlight, globalStatus.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
