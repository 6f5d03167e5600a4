/*
Package recall spawns and retires per audio signal processing units while
audio is streaming.

Recalls

Every recall embeds Recall and is owned by Registry. Recall is either a
template or an instance bound to recall id. Instances form a tree:

    ChannelRun - routes one source channel into one destination channel;
    Recycling - follows one recycling of source channel;
    AudioSignal - processes one audio signal of that recycling.

Container keeps templates and instantiates them for new recall ids.

Recyclings

Recycling subscribes to its source recycling. When audio signal enters the
source, recycling spawns exactly one child for it if the signal belongs to
the same recycling context, or to a context nested one level into it.
Template signals are never adopted. When destination target is set,
children aren't spawned until the target holds recall id bound to the
parent context. When signal leaves the source, its child is marked done.

Notifications arrive on the audio goroutine, so recyclings never block:
done children are only queued. Registry.Collect disposes them later on a
control goroutine.
*/
package recall
