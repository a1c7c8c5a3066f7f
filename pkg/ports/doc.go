// Package ports defines the interfaces between the engine core and its
// external collaborators: the session store, the distributed lock, the
// intent classifier, tool workers and the flow repository.
package ports
