// Package preflight provides readiness checks for the filesystem paths,
// credentials and external programs doctools depends on.
//
// These checks run in two contexts:
//   - The app bootstrap calls RunAll before accepting work and logs any
//     failure, so a missing output directory is reported once up front.
//   - The CLI "doctools deps" command uses the individual check functions
//     (CheckSystemDeps, CheckEngineFromConfig, CheckCacheFromConfig) to
//     display readiness.
package preflight
