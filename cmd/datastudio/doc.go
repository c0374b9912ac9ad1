// Command datastudio filters and merges episodic robot-learning datasets.
//
// filter and merge build a new dataset in a private scratch directory and
// publish it under the destination repo id only when every file was written.
// inspect, runs, staging, config, and doctor are maintenance commands.
package main
