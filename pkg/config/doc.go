/*
Package config defines Lithos's on-disk configuration model and loads it.

There are four config kinds, read at three different points in the process
tree's and knot's lifetime:

  - MasterConfig: one per host, read once at tree startup (and again on
    SIGQUIT reload). Names every other directory the runtime touches.
  - SandboxConfig: one per sandbox name, read at the same points. Declares
    the UID/GID/port ranges and host-path maps a sandbox's containers may
    use.
  - ChildConfig: one per process name within a sandbox's process manifest.
    Names the image, the in-image container config path, and the replica
    count.
  - ContainerConfig: read by the knot from inside the assembled image. Fully
    describes one container: executable, environment, resource limits,
    volumes, and ID mappings.

Validation is total: Load* functions either return a fully valid config or a
ConfigError naming the offending file and field. Nothing downstream
re-checks what this package already checked.
*/
package config
