// Package conversation tracks the local state of each conversation thread:
// which backend conversation it maps to and which message the next prompt
// should reply to.
//
// Threads are keyed by a caller-chosen id. The first [Table.Resolve] of an
// id creates the entry with a fresh parent message id; later calls return
// the same entry and mark it active. Entries idle longer than the idle
// timeout are dropped by [Table.Sweep], which runs periodically once
// [Table.Start] is called. A swept thread is simply recreated on next use.
//
//	tbl := conversation.NewTable()
//	tbl.Start(ctx)
//	defer tbl.Stop()
//
//	st, err := tbl.Resolve("support-42", "")
//	// ... exchange using st.ParentID and st.ConversationID ...
//	tbl.Advance("support-42", conversationID, messageID)
//
// Table is safe for concurrent use.
package conversation
