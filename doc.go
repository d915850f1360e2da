// Package auth resolves who is using the club app and what they may do.
//
// Auth context resolution:
//   - Resolver turns a request Client (user agent, session and persistent
//     storage, optional LINE capability) into a ResolvedAuthState. Inside the
//     LINE embedded browser the member is looked up by LINE user id; in a
//     standard browser by the cached member handle. An explicit logout flag
//     always wins over either path.
//   - Resolution fails open: store, storage and external login errors are
//     logged and produce an unauthenticated state, never an error.
//   - Tracker re-resolves once per navigation and drops results that were
//     superseded by a later pass.
//
// Authorization:
//   - Roles are normalized from whatever shape they were persisted in. Can and
//     Capabilities answer from a fixed role to capability matrix that is
//     independent of role order.
//   - RouteGuard maps a state and a path to a redirect target.
//
// Member lifecycle:
//   - MemberStateMachine owns the status graph, timestamps and hooks.
//     RegisterMemberHandler and LinkExternalIdentityHandler are the write
//     commands. All three report to an ActivitySink on a best-effort basis.
package auth
