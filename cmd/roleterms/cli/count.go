package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/odyssey-erp/roleterms/internal/roleterms"
)

// UserCounter reports per role user counts.
type UserCounter interface {
	CountUsers(ctx context.Context, tenantID int64) (roleterms.UserCounts, error)
}

// CountCLI implements the count command.
type CountCLI struct {
	counter UserCounter
}

// NewCountCLI builds the command.
func NewCountCLI(counter UserCounter) (*CountCLI, error) {
	if counter == nil {
		return nil, errors.New("count cli: counter required")
	}
	return &CountCLI{counter: counter}, nil
}

// CountOptions defines available flags for the count command.
type CountOptions struct {
	TenantID   int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CountCommand prints how many users hold each role.
func (c *CountCLI) CountCommand(ctx context.Context, opts CountOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.TenantID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "Error: --tenant must be positive")
		return 1
	}
	counts, err := c.counter.CountUsers(ctx, opts.TenantID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(counts); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "Error: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	tw := tabwriter.NewWriter(opts.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ROLE\tUSERS")
	for _, rc := range counts.AvailRoles {
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", rc.Role, rc.Users)
	}
	_, _ = fmt.Fprintf(tw, "total\t%d\n", counts.TotalUsers)
	_ = tw.Flush()
	return 0
}
