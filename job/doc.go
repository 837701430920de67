// Package job defines the posted job, its status machine and its store.
//
//	pending_dispatch → dispatching → accepted → en_route → in_progress → completed
//	pending_dispatch → dispatching → unassigned
//	pending_dispatch | dispatching | unassigned → cancelled
//
// Only the coordinator moves a job up to accepted, unassigned or
// cancelled. The awarded provider drives everything after accepted.
package job
