package hybrid

import "errors"

var (
	// ErrNotOpen is returned by Mailbox operations before Open.
	ErrNotOpen = errors.New("hybrid: mailbox not open")

	// ErrAlreadyOpen is returned by Open on an open mailbox.
	ErrAlreadyOpen = errors.New("hybrid: mailbox already open")

	// ErrBacklogFull is returned when the provisioner cannot keep up with
	// directory changes. The change is dropped and logged.
	ErrBacklogFull = errors.New("hybrid: provisioning backlog full")
)
