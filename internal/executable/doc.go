// Package executable turns executable names into built artifact identifiers.
//
// A Resolver is created for exactly one build. The first Resolve call for a
// name builds the artifact through a Builder; later calls for the same name
// return the memoized identifier. The cache is discarded with the Resolver,
// so nothing leaks between builds.
//
// CommandBuilder is the production Builder. It shells out to the platform CLI
// (`dx build`) and reads the applet name from the source's dxapp.json.
package executable
