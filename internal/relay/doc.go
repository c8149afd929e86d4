// Package relay polls monitored accounts and forwards their new posts.
//
// A Relay owns one Cursors store per process. Startup resolves handles to
// accounts, records the start time and takes each account's newest post as
// its baseline; after that RunCycle fetches everything newer than the cursor,
// delivers it oldest-first and moves the cursor forward. Run repeats cycles on
// a schedule until its context is cancelled.
//
// Cursor advancement does not depend on the delivery outcome unless
// Config.StrictDelivery is set: a failed send is logged and the post is not
// retried. Strict mode keeps the cursor on the last delivered post instead.
package relay
