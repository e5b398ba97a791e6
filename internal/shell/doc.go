/*
Package shell is the navigation bridge between a viewer and the local
machine.

Every navigation of every window goes through Navigate. The request is
classified by the dispatch table and the answer says whether the viewer must
drop its own handling. Intercepted work runs on goroutines:

  - UI commands go to the command executor.
  - Local markup and assets are read from the root folder.
  - Scripts run in the window's registry and their rendered output is
    delivered to the frame that asked for it.
  - Debugger requests start, restart or drive the window's debugger.

Results reach the viewer through a render.Sink.
*/
package shell
