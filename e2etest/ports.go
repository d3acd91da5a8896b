package e2etest

// Each daemon in these scenarios gets a fixed admin port, offset by its
// side index. Link and frontend ports live in the 32100 range. Test
// packages run in parallel, so none of these may collide with the ports
// used by the muxlinkd tests.
const adminPortBase = 25720
