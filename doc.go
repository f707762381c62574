/*
Package songpipe buffers and times decoded audio on its way to an output.

Concept

Messages are pulled through a chain of elements. Every element pulls from
the one before it and returns a message to the one after it:

    source - produces Mode, Track, DecodedStream and audio messages;
    ramper - fades in streams which would start abruptly;
    delay.Left - applies the part of the sender's delay downstream can't hold;
    delay.Right - applies the rest, less the output's own latency;
    starvation.Ramper - buffers on its own goroutine and ramps down on underrun;
    phase.Adjuster - drops audio until playback matches the sender;
    sink - renders audio.

Only the starvation ramper runs its own goroutine. Every other element is
called on the goroutine pulling from the Pipeline, or on the starvation
ramper's puller for elements upstream of it.

Audio

Durations are measured in jiffies, 56448000 per second, so a whole number
of jiffies represents a sample at every supported rate. Audio messages
carry a ramp which is applied when the message is rendered.
*/
package songpipe
