// Package inmemdb implements every repository in memory. It backs the tests and local runs without postgres.
package inmemdb

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/attachment"
	"github.com/trezcool/fieldops/core/client"
	"github.com/trezcool/fieldops/core/notification"
	"github.com/trezcool/fieldops/core/personnel"
	"github.com/trezcool/fieldops/core/schedule"
	"github.com/trezcool/fieldops/core/tenant"
	"github.com/trezcool/fieldops/core/user"
	"github.com/trezcool/fieldops/core/workorder"
)

type (
	DB struct {
		tenant       *tenantTable
		user         *userTable
		personnel    *personnelTable
		client       *clientTable
		workOrder    *workOrderTable
		reminder     *reminderTable
		notification *notificationTable
		attachment   *attachmentTable
	}

	tenantTable struct {
		sync.RWMutex
		table   map[string]*tenant.Tenant
		records []tenant.UsageRecord
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	personnelTable struct {
		sync.RWMutex
		table map[string]*personnel.Personnel
	}

	clientTable struct {
		sync.RWMutex
		table map[string]*client.Client
	}

	// workOrderTable holds work orders and tasks; deleting a work order deletes its tasks.
	workOrderTable struct {
		sync.RWMutex
		table map[string]*workorder.WorkOrder
		tasks map[string]*workorder.Task
		seqs  map[string]int64 // per tenant
	}

	reminderTable struct {
		sync.RWMutex
		table map[string]*schedule.Reminder
	}

	notificationTable struct {
		sync.RWMutex
		table map[string]*notification.Notification
	}

	attachmentTable struct {
		sync.RWMutex
		table map[string]*attachment.Attachment
	}
)

func Open() *DB {
	return &DB{
		tenant:       &tenantTable{table: make(map[string]*tenant.Tenant)},
		user:         &userTable{table: make(map[string]*user.User)},
		personnel:    &personnelTable{table: make(map[string]*personnel.Personnel)},
		client:       &clientTable{table: make(map[string]*client.Client)},
		workOrder:    &workOrderTable{table: make(map[string]*workorder.WorkOrder), tasks: make(map[string]*workorder.Task), seqs: make(map[string]int64)},
		reminder:     &reminderTable{table: make(map[string]*schedule.Reminder)},
		notification: &notificationTable{table: make(map[string]*notification.Notification)},
		attachment:   &attachmentTable{table: make(map[string]*attachment.Attachment)},
	}
}

// orderBy sorts items on ordering, then on defaultField ascending.
func orderBy[T any](items []T, ordering []core.DBOrdering, defaultField string, cmp func(a, b T, field string) int) {
	ordering = append(append([]core.DBOrdering(nil), ordering...), core.DBOrdering{Field: defaultField, Ascending: true})
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range ordering {
			c := cmp(items[i], items[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// containsFold reports whether any of fields contains search, ignoring case.
func containsFold(search string, fields ...string) bool {
	s := strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), s) {
			return true
		}
	}
	return false
}

func copyStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	return append([]string(nil), ss...)
}
