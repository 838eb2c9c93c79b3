// Package manifest handles the declarative metadata surrounding addons:
// the per-addon manifest file (type, name, version, and the declared
// message api), per-message property schemas, and instance property
// files with ${env:VAR} substitution.
//
// The runtime core consumes manifests in exactly two places: graph
// validation at load time (does the destination declare this message
// name at all?) and optional runtime property checking (do the message
// properties satisfy the destination's declared schema?). Authoring and
// packaging tooling around manifests is out of scope.
//
// # File layout
//
// A loader scans a base directory with one subdirectory per addon:
//
//	addons/
//	  stt/
//	    manifest.json
//	    property.json      (optional instance defaults)
//	  tts/
//	    manifest.json
//
// Property files may be JSON or YAML; string values support ${env:VAR}
// references resolved against the process environment at load time.
package manifest
