package consts

// Chat list id used by the presence cache. Folder lists use their positive
// folder id.
const ClMain int32 = -1
